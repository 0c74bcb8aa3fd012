package payment

import "strings"

// statusTable maps a provider's raw status strings onto the canonical enum.
type statusTable map[string]Status

// normalize looks raw up case-insensitively. Unknown values are treated as
// still in flight so that no terminal decision is made on them.
func (t statusTable) normalize(raw string) (Status, bool) {
	s, ok := t[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return StatusProcessing, false
	}
	return s, true
}

// IsTerminal reports whether s ends the payment's non-refund lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}
