// Package event defines the real-time events announced to live subscribers
// and the envelope they travel in, both to local clients and across the broker.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// Name identifies an event as seen by clients.
type Name string

const (
	NameItemsUpdated           Name = "task:items-updated"
	NameGroupCompleted         Name = "task:group-completed"
	NameWorksLocalFailsStaging Name = "task:works-local-fails-staging"
)

// ErrUnknownEvent is returned when decoding an envelope with an unknown name.
var ErrUnknownEvent = errors.New("unknown event")

// Payload is implemented by exactly the event variants in this package.
type Payload interface {
	EventName() Name
	payload()
}

// Field names the item field an update touched.
type Field string

const (
	FieldLocalResult Field = "localResultStatus"
	FieldEnvResult   Field = "envResultStatus"
)

// ItemUpdate describes one changed item inside an ItemsUpdated event.
type ItemUpdate struct {
	ItemID string          `json:"itemId"`
	Field  Field           `json:"field"`
	Status testrun.Outcome `json:"status"`
}

// ItemsUpdated announces the items of one group changed by a matching pass.
type ItemsUpdated struct {
	TaskGroupID  string       `json:"taskGroupId"`
	UserID       string       `json:"userId"`
	UpdatedItems []ItemUpdate `json:"updatedItems"`
}

// GroupCompleted announces a group auto-completed by a matching pass.
type GroupCompleted struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	UserID    string `json:"userId"`
}

// WorksLocalFailsStaging announces an item that passes locally but failed in CI.
type WorksLocalFailsStaging struct {
	UserID        string `json:"userId"`
	ItemID        string `json:"itemId"`
	TaskGroupID   string `json:"taskGroupId"`
	TestCaseTitle string `json:"testCaseTitle"`
	TestRunID     string `json:"testRunId"`
}

func (ItemsUpdated) EventName() Name           { return NameItemsUpdated }
func (GroupCompleted) EventName() Name         { return NameGroupCompleted }
func (WorksLocalFailsStaging) EventName() Name { return NameWorksLocalFailsStaging }

func (ItemsUpdated) payload()           {}
func (GroupCompleted) payload()         {}
func (WorksLocalFailsStaging) payload() {}

// Envelope is the unit delivered to subscribers and carried on broker channels.
type Envelope struct {
	Event     Name            `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope serializes p into an envelope stamped with now.
func NewEnvelope(p Payload, now time.Time) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.EventName(), err)
	}
	return Envelope{Event: p.EventName(), Data: data, Timestamp: now.UTC()}, nil
}

// Decode returns the typed payload of a team envelope.
func (e Envelope) Decode() (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch e.Event {
	case NameItemsUpdated:
		var v ItemsUpdated
		err = json.Unmarshal(e.Data, &v)
		p = v
	case NameGroupCompleted:
		var v GroupCompleted
		err = json.Unmarshal(e.Data, &v)
		p = v
	case NameWorksLocalFailsStaging:
		var v WorksLocalFailsStaging
		err = json.Unmarshal(e.Data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return p, nil
}

// ForAdmin returns a copy of e whose data carries the originating team.
// Object data is shallow-merged with teamId/teamName; any other JSON value is
// wrapped as {payload, teamId, teamName}.
func (e Envelope) ForAdmin(teamID, teamName string) (Envelope, error) {
	data, err := enrich(e.Data, teamID, teamName)
	if err != nil {
		return Envelope{}, err
	}
	e.Data = data
	return e, nil
}

func enrich(data json.RawMessage, teamID, teamName string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		if obj == nil {
			obj = map[string]json.RawMessage{}
		}
		obj["teamId"] = mustString(teamID)
		obj["teamName"] = mustString(teamName)
		return json.Marshal(obj)
	}

	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	return json.Marshal(struct {
		Payload  json.RawMessage `json:"payload"`
		TeamID   string          `json:"teamId"`
		TeamName string          `json:"teamName"`
	}{trimmed, teamID, teamName})
}

func mustString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
