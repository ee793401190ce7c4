// Package escalation holds the pure detectors that turn message text into
// hand-off triggers: Russian mobile numbers shared by the customer and the
// in-band marker the assistant emits when a human is requested.
package escalation

import (
	"regexp"
	"strings"
)

// HumanRequestMarker is the sentinel the assistant embeds in its reply when the
// customer asks for a human. It must never reach the customer.
const HumanRequestMarker = "[MANAGER_REQUEST]"

// phonePattern matches Russian mobile numbers in +7/8 forms with optional
// separators and parentheses. It is a trigger, not a validator: false positives
// are acceptable, a missed real phone is the worse failure.
var phonePattern = regexp.MustCompile(`(?:\+7|8)[\s\-(]*\d{3}[\s\-)]*\d{3}[\s\-]*\d{2}[\s\-]*\d{2}`)

var markerPattern = regexp.MustCompile(`\s*` + regexp.QuoteMeta(HumanRequestMarker) + `\s*`)

// ExtractPhone returns the first phone-like substring in the text.
func ExtractPhone(text string) (string, bool) {
	match := phonePattern.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.TrimSpace(match), true
}

// StripHumanRequest reports whether the marker was present and returns the text
// with the marker and surrounding whitespace removed.
func StripHumanRequest(text string) (string, bool) {
	if !strings.Contains(text, HumanRequestMarker) {
		return strings.TrimSpace(text), false
	}
	cleaned := markerPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(cleaned), true
}
