package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

func TestNewEnvelopeShape(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(ItemsUpdated{
		TaskGroupID:  "g1",
		UserID:       "u1",
		UpdatedItems: []ItemUpdate{{ItemID: "i1", Field: FieldLocalResult, Status: testrun.OutcomePassed}},
	}, now)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"event":"task:items-updated","data":{"taskGroupId":"g1","userId":"u1","updatedItems":[{"itemId":"i1","field":"localResultStatus","status":"PASSED"}]},"timestamp":"2026-03-10T12:00:00Z"}`
	if string(raw) != want {
		t.Fatalf("envelope mismatch\n got: %s\nwant: %s", raw, want)
	}
}

func TestEnvelopeDecode(t *testing.T) {
	orig := WorksLocalFailsStaging{UserID: "u1", ItemID: "i1", TaskGroupID: "g1", TestCaseTitle: "Pay", TestRunID: "r1"}
	env, err := NewEnvelope(orig, time.Now())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	got, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(Payload(orig), got); diff != "" {
		t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
	}

	_, err = Envelope{Event: "task:unknown", Data: []byte(`{}`)}.Decode()
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestForAdminMergesObjects(t *testing.T) {
	env := Envelope{Event: NameGroupCompleted, Data: json.RawMessage(`{"groupId":"g1","groupName":"Checkout","userId":"u1"}`)}

	admin, err := env.ForAdmin("t1", "Payments")
	if err != nil {
		t.Fatalf("ForAdmin: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(admin.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]string{
		"groupId":   "g1",
		"groupName": "Checkout",
		"userId":    "u1",
		"teamId":    "t1",
		"teamName":  "Payments",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("admin data mismatch (-want +got):\n%s", diff)
	}
	if string(env.Data) != `{"groupId":"g1","groupName":"Checkout","userId":"u1"}` {
		t.Fatalf("ForAdmin modified the team envelope: %s", env.Data)
	}
}

func TestForAdminWrapsNonObjects(t *testing.T) {
	tests := []struct {
		name string
		data json.RawMessage
		want string
	}{
		{"array", json.RawMessage(`[1,2]`), `{"payload":[1,2],"teamId":"t1","teamName":""}`},
		{"string", json.RawMessage(`"hello"`), `{"payload":"hello","teamId":"t1","teamName":""}`},
		{"empty", nil, `{"payload":null,"teamId":"t1","teamName":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin, err := Envelope{Event: NameItemsUpdated, Data: tt.data}.ForAdmin("t1", "")
			if err != nil {
				t.Fatalf("ForAdmin: %v", err)
			}
			if string(admin.Data) != tt.want {
				t.Fatalf("got %s, want %s", admin.Data, tt.want)
			}
		})
	}
}
