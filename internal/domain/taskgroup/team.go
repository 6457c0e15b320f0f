package taskgroup

import (
	"fmt"

	"github.com/Strob0t/TestPulse/internal/domain"
)

// ValidateTeamID checks that id is usable as a broker channel segment.
// Team ids are UUIDs in storage; anything beyond letters, digits, '-' and
// '_' would change the meaning of a NATS subject.
func ValidateTeamID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: team id is required", domain.ErrValidation)
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: team id %q may only contain letters, digits, '-' and '_'", domain.ErrValidation, id)
		}
	}
	return nil
}
