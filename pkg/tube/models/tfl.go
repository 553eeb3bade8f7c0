package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Prediction mirrors the fields of a TfL unified API arrival prediction that
// the engine consumes.
type Prediction struct {
	ID              string `json:"id"`
	LineID          string `json:"lineId"`
	StationName     string `json:"stationName"`
	VehicleID       string `json:"vehicleId"`
	Towards         string `json:"towards"`
	DestinationName string `json:"destinationName"`
	PlatformName    string `json:"platformName"`
	ExpectedArrival string `json:"expectedArrival"`
}

// RawDestination picks the destination text of a prediction. "towards"
// carries via qualifiers, so it is preferred when it holds a real value.
func (p Prediction) RawDestination() string {
	towards := strings.TrimSpace(p.Towards)
	if towards != "" && !strings.EqualFold(towards, "Check Front of Train") {
		return towards
	}
	return strings.TrimSpace(p.DestinationName)
}

// Arrival converts the prediction into an engine arrival record.
func (p Prediction) Arrival() Arrival {
	return Arrival{
		LineID:          p.LineID,
		StationName:     p.StationName,
		VehicleID:       p.VehicleID,
		Destination:     p.RawDestination(),
		ExpectedArrival: p.ExpectedArrival,
	}
}

// DecodeTfLArrivals decodes a TfL prediction array.
func DecodeTfLArrivals(r io.Reader) ([]Arrival, error) {
	var predictions []Prediction
	if err := json.NewDecoder(r).Decode(&predictions); err != nil {
		return nil, fmt.Errorf("failed to decode TfL predictions: %w", err)
	}

	arrivals := make([]Arrival, 0, len(predictions))
	for _, p := range predictions {
		arrivals = append(arrivals, p.Arrival())
	}
	return arrivals, nil
}
