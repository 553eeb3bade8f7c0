// Package duration estimates the travel time from a vehicle's current
// station to its resolved next station.
package duration

import (
	"math"
	"time"

	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// Default is returned when a batch holds no usable observation.
const Default = 2 * time.Minute

// Query identifies the hop to estimate.
type Query struct {
	LineID    string
	Current   string
	Next      models.Stop
	VehicleID string
}

// Estimate picks, in order: the vehicle's own predicted hop time, the mean of
// observed movements over the same station pair, then Default. Terminal and
// unresolved hops have no estimate.
func Estimate(arrivals []models.Arrival, movements []models.Movement, q Query) models.Estimate {
	if !q.Next.IsStation() {
		return models.Estimate{Source: models.SourceNone}
	}
	next := string(q.Next)

	if d, ok := exact(arrivals, q.LineID, q.Current, next, q.VehicleID); ok {
		return models.Estimate{Value: d, Source: models.SourceExact}
	}
	if d, ok := aggregate(movements, q.LineID, q.Current, next); ok {
		return models.Estimate{Value: d, Source: models.SourceAggregate}
	}
	return models.Estimate{Value: Default, Source: models.SourceDefault}
}

// exact looks for the same vehicle predicted at both stations, the second
// strictly after the first.
func exact(arrivals []models.Arrival, lineID, current, next, vehicleID string) (time.Duration, bool) {
	probe := models.Arrival{VehicleID: vehicleID}
	if !probe.Tracked() {
		return 0, false
	}

	var from time.Time
	for _, a := range arrivals {
		if a.VehicleID != vehicleID || !a.OnLine(lineID) {
			continue
		}
		if !normalize.Matches(normalize.Station(a.StationName), current) {
			continue
		}
		t, err := a.ExpectedAt()
		if err != nil {
			continue
		}
		if from.IsZero() || t.Before(from) {
			from = t
		}
	}
	if from.IsZero() {
		return 0, false
	}

	var to time.Time
	for _, a := range arrivals {
		if a.VehicleID != vehicleID || !a.OnLine(lineID) {
			continue
		}
		if !normalize.Matches(normalize.Station(a.StationName), next) {
			continue
		}
		t, err := a.ExpectedAt()
		if err != nil || !t.After(from) {
			continue
		}
		if to.IsZero() || t.Before(to) {
			to = t
		}
	}
	if to.IsZero() {
		return 0, false
	}
	return to.Sub(from), true
}

// aggregate averages the observed minutes over matching movements, with a
// floor of one minute.
func aggregate(movements []models.Movement, lineID, current, next string) (time.Duration, bool) {
	var sum, count int
	for _, m := range movements {
		if !normalize.Equal(m.LineID, lineID) {
			continue
		}
		if !normalize.Matches(m.From, current) || !normalize.Matches(m.To, next) {
			continue
		}
		sum += m.Minutes
		count++
	}
	if count == 0 {
		return 0, false
	}

	mean := float64(sum) / float64(count)
	seconds := int64(math.Round(mean * 60))
	if seconds < 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second, true
}
