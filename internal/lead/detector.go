// Package lead holds the lead-signal detection strategy. Detection is a
// best-effort text heuristic, not a parser; false positives and negatives
// are acceptable and the policy is swappable.
package lead

import (
	"regexp"
	"strings"
)

// Signal is the generic intent marker handed to the host application when a
// detector fires.
type Signal struct {
	Intent string `json:"intent"`
}

// Detector evaluates a visitor message for contact-information signals.
type Detector interface {
	Detect(text string) (Signal, bool)
}

// IntentPotentialContact is the marker emitted by the default heuristic.
const IntentPotentialContact = "potential_contact_found"

var digitRun = regexp.MustCompile(`\d{7,}`)

// Heuristic flags messages containing an "@" or a run of 7+ digits, which
// covers most emails and phone numbers typed in free text.
type Heuristic struct{}

func (Heuristic) Detect(text string) (Signal, bool) {
	if strings.Contains(strings.ToLower(text), "@") || digitRun.MatchString(text) {
		return Signal{Intent: IntentPotentialContact}, true
	}
	return Signal{}, false
}
