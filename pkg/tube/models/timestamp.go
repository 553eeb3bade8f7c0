package models

import (
	"fmt"
	"strings"
	"time"
)

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999", // zone-less, fractional seconds
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 expected-arrival value. Values without a
// zone offset are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	var parseErr error
	for _, format := range timestampFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		parseErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time %q: %w", s, parseErr)
}
