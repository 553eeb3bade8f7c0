// Package inference is the entry point of the engine: it combines route
// resolution and duration estimation into one answer per arrival.
//
// Engines hold only read-only topology and never read the wall clock, so a
// single Engine may serve concurrent callers.
package inference

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tubetrace-engine/internal/duration"
	"github.com/tubetrace-engine/internal/movement"
	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/internal/resolver"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

type Engine struct {
	store    *topology.Store
	resolver *resolver.Resolver
}

// New returns an engine over store. A nil store yields UNKNOWN for every
// arrival.
func New(store *topology.Store) *Engine {
	return &Engine{store: store, resolver: resolver.New(store)}
}

// Topology returns the store the engine resolves against.
func (e *Engine) Topology() *topology.Store {
	return e.store
}

// Infer answers one arrival. batch holds the recent arrivals used to observe
// travel times and may include arrival itself.
func (e *Engine) Infer(lineID string, arrival models.Arrival, batch []models.Arrival) models.Result {
	return e.infer(lineID, arrival, batch, movement.For(batch, lineID))
}

func (e *Engine) infer(lineID string, arrival models.Arrival, batch []models.Arrival, movements []models.Movement) models.Result {
	destination := normalize.Destination(arrival.Destination)
	station := normalize.Station(arrival.StationName)

	res := e.resolver.Resolve(lineID, arrival.StationName, destination, arrival.Destination)
	est := duration.Estimate(batch, movements, duration.Query{
		LineID:    lineID,
		Current:   station,
		Next:      res.Next,
		VehicleID: arrival.VehicleID,
	})

	return models.Result{
		LineID:      lineID,
		Station:     station,
		VehicleID:   arrival.VehicleID,
		Destination: destination,
		NextStation: res.Next,
		Duration:    est,
		Reason:      string(res.Reason),
	}
}

// Resolve answers a single next-station query without history.
// rawDestination is the destination as displayed, via qualifier included.
func (e *Engine) Resolve(lineID, station, rawDestination string) resolver.Resolution {
	return e.resolver.Resolve(lineID, station, normalize.Destination(rawDestination), rawDestination)
}

// Candidates lists the routes a branching line would consider for
// rawDestination.
func (e *Engine) Candidates(lineID, rawDestination string) []string {
	return e.resolver.Candidates(lineID, normalize.Destination(rawDestination), rawDestination)
}

// LineBatch is the outcome of one line's inference pass.
type LineBatch struct {
	LineID    string          `json:"lineId"`
	Results   []models.Result `json:"results"`
	Movements int             `json:"movements"`
	Summary   Summary         `json:"summary"`
}

// InferBatch answers every arrival of lineID in arrivals, in input order.
// Movements are derived once for the whole batch.
func (e *Engine) InferBatch(lineID string, arrivals []models.Arrival) LineBatch {
	movements := movement.For(arrivals, lineID)

	var results []models.Result
	for _, a := range arrivals {
		if !a.OnLine(lineID) {
			continue
		}
		results = append(results, e.infer(lineID, a, arrivals, movements))
	}

	return LineBatch{
		LineID:    lineID,
		Results:   results,
		Movements: len(movements),
		Summary:   Summarize(lineID, arrivals, results),
	}
}

// InferLines splits arrivals by line and runs InferBatch for each line, at
// most parallelism at a time (unbounded when parallelism <= 0). Batches are
// returned sorted by line id. Only cancellation of ctx produces an error.
func (e *Engine) InferLines(ctx context.Context, arrivals []models.Arrival, parallelism int) ([]LineBatch, error) {
	byLine := make(map[string][]models.Arrival)
	for _, a := range arrivals {
		id := strings.ToLower(strings.TrimSpace(a.LineID))
		byLine[id] = append(byLine[id], a)
	}

	ids := make([]string, 0, len(byLine))
	for id := range byLine {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]LineBatch, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.InferBatch(id, byLine[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
