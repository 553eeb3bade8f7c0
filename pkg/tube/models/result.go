package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stop is the resolved next station of a vehicle, or one of the sentinels.
type Stop string

const (
	// Terminal means the current station ends the resolved route.
	Terminal Stop = "TERMINAL"
	// Unknown means no topology data could resolve the next station.
	Unknown Stop = "UNKNOWN"
)

// IsStation reports whether s names a station rather than a sentinel.
func (s Stop) IsStation() bool {
	return s != "" && s != Terminal && s != Unknown
}

func (s Stop) String() string { return string(s) }

// NotApplicable is the duration text for terminal and unresolved results.
const NotApplicable = "N/A"

// DurationSource records which estimation tier produced a duration.
type DurationSource string

const (
	SourceNone      DurationSource = "none"
	SourceExact     DurationSource = "exact"
	SourceAggregate DurationSource = "aggregate"
	SourceDefault   DurationSource = "default"
)

// Estimate is a travel-time estimate to the next station.
type Estimate struct {
	Value  time.Duration
	Source DurationSource
}

// String renders the estimate as "XmYs", or "N/A" when there is none.
func (e Estimate) String() string {
	if e.Source == SourceNone || e.Source == "" {
		return NotApplicable
	}
	return FormatDuration(e.Value)
}

// FormatDuration renders d as whole minutes and floored seconds, e.g. "2m20s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// Result is the per-arrival answer of the inference engine.
type Result struct {
	LineID      string
	Station     string
	VehicleID   string
	Destination string
	NextStation Stop
	Duration    Estimate
	// Reason says how NextStation was decided, e.g. "sequence" or "ambiguous".
	Reason string
}

type resultJSON struct {
	LineID         string         `json:"lineId"`
	Station        string         `json:"station"`
	VehicleID      string         `json:"vehicleId,omitempty"`
	Destination    string         `json:"destination"`
	NextStation    string         `json:"nextStation"`
	Duration       string         `json:"duration"`
	DurationSource DurationSource `json:"durationSource"`
	Reason         string         `json:"reason,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	source := r.Duration.Source
	if source == "" {
		source = SourceNone
	}
	return json.Marshal(resultJSON{
		LineID:         r.LineID,
		Station:        r.Station,
		VehicleID:      r.VehicleID,
		Destination:    r.Destination,
		NextStation:    r.NextStation.String(),
		Duration:       r.Duration.String(),
		DurationSource: source,
		Reason:         r.Reason,
	})
}
