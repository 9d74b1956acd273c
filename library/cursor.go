package library

import (
	"fmt"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
)

// Layouts accepted for since and cursor values. Zone-less values are read as UTC.
var cursorLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseCursor parses an ISO-8601 timestamp token. Empty input yields the zero
// time. Malformed input yields core.ErrInvalidCursor.
func ParseCursor(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range cursorLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, core.ErrInvalidCursor)
}

// FormatCursor serializes t as an RFC 3339 UTC timestamp. ParseCursor
// reverses it exactly.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
