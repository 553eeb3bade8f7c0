// Package movement reconstructs observed station-to-station travel times by
// correlating arrival predictions of the same vehicle.
package movement

import (
	"math"
	"sort"
	"time"

	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// MaxMinutes bounds a plausible hop. Larger gaps are stale reports or belong
// to a different trip.
const MaxMinutes = 30

type observation struct {
	station string
	line    string
	at      time.Time
}

// For derives movements for lineID from a batch of arrivals. Arrivals of other
// lines, untracked vehicles and malformed timestamps are skipped. The result
// is ordered by vehicle id, then time.
func For(arrivals []models.Arrival, lineID string) []models.Movement {
	groups := make(map[string][]observation)
	for _, a := range arrivals {
		if !a.OnLine(lineID) || !a.Tracked() {
			continue
		}
		at, err := a.ExpectedAt()
		if err != nil {
			continue
		}
		groups[a.VehicleID] = append(groups[a.VehicleID], observation{
			station: normalize.Station(a.StationName),
			line:    a.LineID,
			at:      at,
		})
	}

	vehicles := make([]string, 0, len(groups))
	for v := range groups {
		vehicles = append(vehicles, v)
	}
	sort.Strings(vehicles)

	var out []models.Movement
	for _, v := range vehicles {
		obs := groups[v]
		sort.SliceStable(obs, func(i, j int) bool {
			if !obs[i].at.Equal(obs[j].at) {
				return obs[i].at.Before(obs[j].at)
			}
			return obs[i].station < obs[j].station
		})

		for i := 1; i < len(obs); i++ {
			prev, cur := obs[i-1], obs[i]
			minutes := wholeMinutes(cur.at.Sub(prev.at))
			if minutes <= 0 || minutes >= MaxMinutes {
				continue
			}
			out = append(out, models.Movement{
				VehicleID: v,
				LineID:    cur.line,
				From:      prev.station,
				To:        cur.station,
				Minutes:   minutes,
				Departed:  prev.at,
				Arrived:   cur.at,
			})
		}
	}
	return out
}

// wholeMinutes rounds to the nearest minute, halves up.
func wholeMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// Vehicles counts the distinct tracked vehicles of lineID in a batch.
func Vehicles(arrivals []models.Arrival, lineID string) int {
	seen := make(map[string]bool)
	for _, a := range arrivals {
		if a.OnLine(lineID) && a.Tracked() {
			seen[a.VehicleID] = true
		}
	}
	return len(seen)
}
