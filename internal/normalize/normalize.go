// Package normalize turns raw upstream destination and station text into
// canonical station names usable as lookup keys.
package normalize

import (
	"regexp"
	"strings"
)

// UnknownDestination is the canonical value for empty destination text. It
// never matches a station.
const UnknownDestination = "Unknown"

var viaPattern = regexp.MustCompile(`(?i)^(.+?)\s+via\s+(.+)$`)

// stationSuffixes are stripped from the end of station names, repeatedly, so
// "Paddington (H&C Line) Underground Station" becomes "Paddington".
var stationSuffixes = []string{
	" Underground Station",
	" Underground",
	" DLR Station",
	" Rail Station",
	" (H&C Line)",
	" (Circle Line)",
	" (Circle)",
	" (District)",
	" (Bakerloo)",
	" (Central)",
	" (Northern)",
	" (Piccadilly)",
	" (Victoria)",
	" (Jubilee)",
	" (Hammersmith & City)",
	" (Metropolitan)",
	" (DLR)",
	" (Overground)",
	" (Tram)",
	" (Elizabeth)",
	" (Elizabeth line)",
	" (TfL Rail)",
}

// Destination drops a trailing "via <qualifier>" from raw destination text.
// Blank input yields UnknownDestination.
func Destination(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnknownDestination
	}
	if m := viaPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Via returns the "via" qualifier of raw destination text, or "".
func Via(raw string) string {
	if m := viaPattern.FindStringSubmatch(strings.TrimSpace(raw)); m != nil {
		return strings.TrimSpace(m[2])
	}
	return ""
}

// IsUnknown reports whether a normalized destination carries no usable value.
func IsUnknown(destination string) bool {
	d := strings.TrimSpace(destination)
	return d == "" || strings.EqualFold(d, UnknownDestination)
}

// Station strips station-type and line-name suffixes from a station name.
func Station(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		stripped := false
		for _, suffix := range stationSuffixes {
			if len(s) > len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
				s = strings.TrimSpace(s[:len(s)-len(suffix)])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

// Equal compares two names ignoring case and surrounding space.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Matches is the fuzzy name test used at lookup boundaries: either name
// contains the other, ignoring case. Blank names never match.
func Matches(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Contains reports whether text contains keyword, ignoring case.
func Contains(text, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), keyword)
}
