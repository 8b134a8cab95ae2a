package lead

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		hit  bool
	}{
		{"plain greeting", "hello there", false},
		{"email address", "reach me at jane@example.com", true},
		{"bare at sign", "meet @ noon", true},
		{"phone number", "call me at 5551234567", true},
		{"formatted phone keeps digits apart", "call 555-123-4567", false},
		{"short digit run", "I need 2 sessions", false},
		{"seven digit run", "1234567", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, ok := Heuristic{}.Detect(tt.text)
			assert.Equal(t, tt.hit, ok)
			if tt.hit {
				assert.Equal(t, IntentPotentialContact, signal.Intent)
			}
		})
	}
}
