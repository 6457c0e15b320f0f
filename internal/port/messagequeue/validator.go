package messagequeue

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/TestPulse/internal/domain/event"
)

// Validate checks that data received on channel is a well-formed message for
// that channel. Team channels must carry a known event envelope; the admin
// channel carries enriched data and is only checked for envelope shape.
// Unknown channels pass validation.
func Validate(channel string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on channel %s", channel)
	}

	switch {
	case channel == SubjectRunFinished:
		var p RunFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", channel, err)
		}
		if p.RunID == "" {
			return fmt.Errorf("schema validation failed for %s: run_id is required", channel)
		}
		return nil
	case channel == ChannelAdmin:
		_, err := decodeEnvelope(channel, data)
		return err
	default:
		if _, ok := TeamFromChannel(channel); !ok {
			return nil
		}
		env, err := decodeEnvelope(channel, data)
		if err != nil {
			return err
		}
		if _, err := env.Decode(); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", channel, err)
		}
		return nil
	}
}

func decodeEnvelope(channel string, data []byte) (event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("schema validation failed for %s: %w", channel, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("schema validation failed for %s: event is required", channel)
	}
	return env, nil
}
