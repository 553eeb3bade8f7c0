package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/inference"
	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/internal/pipeline"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// Runner runs a multi-line batch through inference and the sinks.
type Runner interface {
	Run(ctx context.Context, arrivals []models.Arrival) ([]pipeline.Batch, error)
}

// Pinger reports backing store health. *db.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// bytesPerArrival bounds request bodies relative to the batch limit.
const bytesPerArrival = 2048

type Handler struct {
	runner   Runner
	engine   *inference.Engine
	db       Pinger
	logger   logger.Logger
	maxBatch int
	now      func() time.Time
}

func NewHandler(runner Runner, engine *inference.Engine, db Pinger, log logger.Logger, maxBatch int) *Handler {
	return &Handler{
		runner:   runner,
		engine:   engine,
		db:       db,
		logger:   log,
		maxBatch: maxBatch,
		now:      time.Now,
	}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"lines":     len(h.engine.Topology().Lines()),
		"timestamp": h.now().UTC(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp["status"] = "error"
			resp["database"] = "disconnected"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "connected"
	}

	writeJSON(w, http.StatusOK, resp)
}

// LineInfo describes one line in GET /v1/lines.
type LineInfo struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Stations int    `json:"stations"`
	Routes   int    `json:"routes,omitempty"`
}

// ListLines handles GET /v1/lines
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Topology()
	lines := make([]LineInfo, 0)
	for _, id := range store.Lines() {
		l, _ := store.Line(id)
		info := LineInfo{ID: l.ID, Kind: l.Kind.String(), Stations: len(l.Stations())}
		if l.Kind == topology.KindBranching {
			info.Routes = routeCount(l.Sequences)
		}
		lines = append(lines, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines": lines,
		"count": len(lines),
	})
}

func routeCount(sequences []topology.Sequence) int {
	seen := make(map[string]bool)
	for _, s := range sequences {
		seen[s.Route] = true
	}
	return len(seen)
}

// TopologyResponse is the JSON response for GET /v1/lines/{lineID}/topology
type TopologyResponse struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	Stations  []string            `json:"stations"`
	Sequences []topology.Sequence `json:"sequences,omitempty"`
	Adjacency map[string][]string `json:"adjacency,omitempty"`
	Aliases   map[string]string   `json:"aliases,omitempty"`
	Junctions []topology.Junction `json:"junctions,omitempty"`
}

// GetTopology handles GET /v1/lines/{lineID}/topology
func (h *Handler) GetTopology(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineID")
	store := h.engine.Topology()

	l, ok := store.Line(lineID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown line", map[string]interface{}{"lineId": lineID})
		return
	}

	resp := TopologyResponse{
		ID:       l.ID,
		Kind:     l.Kind.String(),
		Stations: l.Stations(),
		Aliases:  l.Aliases,
	}
	if seqs, ok := store.SequencesFor(lineID); ok {
		resp.Sequences = seqs
	}
	if adj, ok := store.AdjacencyFor(lineID); ok {
		resp.Adjacency = adj
	}
	for _, j := range l.Junctions {
		resp.Junctions = append(resp.Junctions, j)
	}
	sort.Slice(resp.Junctions, func(i, k int) bool {
		return resp.Junctions[i].Station < resp.Junctions[k].Station
	})

	writeJSON(w, http.StatusOK, resp)
}

// InferResponse is the JSON response for POST /v1/infer
type InferResponse struct {
	Batches    []pipeline.Batch `json:"batches"`
	Lines      int              `json:"lines"`
	Arrivals   int              `json:"arrivals"`
	InferredAt time.Time        `json:"inferredAt"`
}

// Infer handles POST /v1/infer. The body is an array of arrival records,
// or of TfL predictions with ?format=tfl.
func (h *Handler) Infer(w http.ResponseWriter, r *http.Request) {
	arrivals, ok := h.decodeArrivals(w, r)
	if !ok {
		return
	}

	batches, err := h.runner.Run(r.Context(), arrivals)
	if err != nil {
		h.logger.Warn("Inference aborted", "arrivals", len(arrivals), "error", err)
		writeError(w, http.StatusServiceUnavailable, "inference aborted", nil)
		return
	}

	writeJSON(w, http.StatusOK, InferResponse{
		Batches:    batches,
		Lines:      len(batches),
		Arrivals:   len(arrivals),
		InferredAt: h.now().UTC(),
	})
}

// InferLine handles POST /v1/lines/{lineID}/infer. Arrivals of other lines
// are ignored; nothing is sent to the sinks.
func (h *Handler) InferLine(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineID")

	arrivals, ok := h.decodeArrivals(w, r)
	if !ok {
		return
	}

	lb := h.engine.InferBatch(lineID, arrivals)
	if lb.Results == nil {
		lb.Results = []models.Result{}
	}
	writeJSON(w, http.StatusOK, lb)
}

// ResolveRequest is the body of POST /v1/resolve
type ResolveRequest struct {
	LineID      string `json:"lineId"`
	Station     string `json:"station"`
	Destination string `json:"destination"`
}

// ResolveResponse is the JSON response for POST /v1/resolve
type ResolveResponse struct {
	LineID      string   `json:"lineId"`
	Station     string   `json:"station"`
	Destination string   `json:"destination"`
	Via         string   `json:"via,omitempty"`
	NextStation string   `json:"nextStation"`
	Reason      string   `json:"reason"`
	Candidates  []string `json:"candidates,omitempty"`
}

// Resolve handles POST /v1/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, bytesPerArrival)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"internal": err.Error()})
		return
	}
	if strings.TrimSpace(req.LineID) == "" || strings.TrimSpace(req.Station) == "" {
		writeError(w, http.StatusBadRequest, "lineId and station are required", nil)
		return
	}

	res := h.engine.Resolve(req.LineID, req.Station, req.Destination)
	writeJSON(w, http.StatusOK, ResolveResponse{
		LineID:      req.LineID,
		Station:     normalize.Station(req.Station),
		Destination: normalize.Destination(req.Destination),
		Via:         normalize.Via(req.Destination),
		NextStation: res.Next.String(),
		Reason:      string(res.Reason),
		Candidates:  h.engine.Candidates(req.LineID, req.Destination),
	})
}

func (h *Handler) decodeArrivals(w http.ResponseWriter, r *http.Request) ([]models.Arrival, bool) {
	body := http.MaxBytesReader(w, r.Body, int64(h.maxBatch)*bytesPerArrival)

	var (
		arrivals []models.Arrival
		err      error
	)
	if strings.EqualFold(r.URL.Query().Get("format"), "tfl") {
		arrivals, err = models.DecodeTfLArrivals(body)
	} else {
		err = json.NewDecoder(body).Decode(&arrivals)
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return nil, false
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"internal": err.Error()})
		return nil, false
	case len(arrivals) > h.maxBatch:
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d arrivals exceeds the limit of %d", len(arrivals), h.maxBatch), nil)
		return nil, false
	}
	return arrivals, true
}
