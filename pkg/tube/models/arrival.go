package models

import (
	"strings"
	"time"
)

// Arrival is a single upstream prediction: one vehicle expected at one station.
// Arrivals are treated as immutable once received.
type Arrival struct {
	LineID          string `json:"lineId"`
	StationName     string `json:"stationName"`
	VehicleID       string `json:"vehicleId"`
	Destination     string `json:"destination"`
	ExpectedArrival string `json:"expectedArrival"`
}

// Tracked reports whether the vehicle id identifies a real train. TfL uses
// empty or all-zero ids for trains it cannot follow between stations.
func (a Arrival) Tracked() bool {
	id := strings.TrimSpace(a.VehicleID)
	return id != "" && strings.Trim(id, "0") != ""
}

// ExpectedAt parses the expected-arrival timestamp.
func (a Arrival) ExpectedAt() (time.Time, error) {
	return ParseTimestamp(a.ExpectedArrival)
}

// OnLine reports whether the arrival belongs to lineID, ignoring case.
func (a Arrival) OnLine(lineID string) bool {
	return strings.EqualFold(strings.TrimSpace(a.LineID), strings.TrimSpace(lineID))
}

// Movement is one observed hop of a vehicle between two consecutive reported
// stations. Movements are derived per batch and never stored by the engine.
type Movement struct {
	VehicleID string    `json:"vehicleId"`
	LineID    string    `json:"lineId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Minutes   int       `json:"minutes"`
	Departed  time.Time `json:"departed"`
	Arrived   time.Time `json:"arrived"`
}
