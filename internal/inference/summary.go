package inference

import (
	"github.com/tubetrace-engine/internal/movement"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// Summary is a per-line snapshot of one inference pass.
type Summary struct {
	LineID   string                        `json:"lineId"`
	Arrivals int                           `json:"arrivals"`
	Vehicles int                           `json:"vehicles"`
	Resolved int                           `json:"resolved"`
	Terminal int                           `json:"terminal"`
	Unknown  int                           `json:"unknown"`
	Sources  map[models.DurationSource]int `json:"sources"`
}

// UnknownRatio is the share of results that could not be resolved.
func (s Summary) UnknownRatio() float64 {
	if s.Arrivals == 0 {
		return 0
	}
	return float64(s.Unknown) / float64(s.Arrivals)
}

// Summarize counts outcomes of results and the distinct tracked vehicles of
// lineID in arrivals.
func Summarize(lineID string, arrivals []models.Arrival, results []models.Result) Summary {
	s := Summary{
		LineID:   lineID,
		Arrivals: len(results),
		Vehicles: movement.Vehicles(arrivals, lineID),
		Sources:  make(map[models.DurationSource]int),
	}
	for _, r := range results {
		switch {
		case r.NextStation == models.Terminal:
			s.Terminal++
		case r.NextStation.IsStation():
			s.Resolved++
		default:
			s.Unknown++
		}
		source := r.Duration.Source
		if source == "" {
			source = models.SourceNone
		}
		s.Sources[source]++
	}
	return s
}
