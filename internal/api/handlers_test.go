package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubetrace-engine/internal/common/logger"
	"github.com/tubetrace-engine/internal/inference"
	"github.com/tubetrace-engine/internal/pipeline"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type cancelledRunner struct{}

func (cancelledRunner) Run(context.Context, []models.Arrival) ([]pipeline.Batch, error) {
	return nil, context.Canceled
}

func newTestRouter(t *testing.T, runner Runner, db Pinger, maxBatch int) http.Handler {
	t.Helper()
	store, err := topology.Default()
	require.NoError(t, err)
	engine := inference.New(store)
	if runner == nil {
		runner = pipeline.New(engine, logger.Nop())
	}
	return NewRouter(NewHandler(runner, engine, db, logger.Nop(), maxBatch), []string{"*"})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(12), body["lines"])
	assert.NotContains(t, body, "database")
}

func TestHealthDatabaseDown(t *testing.T) {
	rec := do(t, newTestRouter(t, nil, stubPinger{errors.New("connection refused")}, 10), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disconnected")
}

func TestListLines(t *testing.T) {
	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodGet, "/v1/lines", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Lines []LineInfo `json:"lines"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Count)

	kinds := make(map[string]string)
	for _, l := range body.Lines {
		kinds[l.ID] = l.Kind
		assert.Positive(t, l.Stations, l.ID)
	}
	assert.Equal(t, "branching", kinds["northern"])
	assert.Equal(t, "simple", kinds["victoria"])
}

func TestGetTopology(t *testing.T) {
	h := newTestRouter(t, nil, nil, 10)

	rec := do(t, h, http.MethodGet, "/v1/lines/Circle/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var circle TopologyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &circle))
	assert.Equal(t, "branching", circle.Kind)
	assert.NotEmpty(t, circle.Sequences)
	assert.NotEmpty(t, circle.Junctions)
	assert.Nil(t, circle.Adjacency)

	rec = do(t, h, http.MethodGet, "/v1/lines/victoria/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var victoria TopologyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &victoria))
	assert.Contains(t, victoria.Adjacency["Oxford Circus"], "Warren Street")
	assert.Empty(t, victoria.Sequences)

	rec = do(t, h, http.MethodGet, "/v1/lines/monorail/topology", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInfer(t *testing.T) {
	body := `[
		{"lineId":"central","stationName":"Bank Underground Station","vehicleId":"101","destination":"Epping","expectedArrival":"2024-05-01T17:00:00Z"},
		{"lineId":"central","stationName":"Liverpool Street Underground Station","vehicleId":"101","destination":"Epping","expectedArrival":"2024-05-01T17:02:00Z"},
		{"lineId":"victoria","stationName":"Brixton Underground Station","vehicleId":"7","destination":"Brixton","expectedArrival":"2024-05-01T17:01:00Z"}
	]`

	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodPost, "/v1/infer", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Lines    int `json:"lines"`
		Arrivals int `json:"arrivals"`
		Batches  []struct {
			BatchID string `json:"batchId"`
			LineID  string `json:"lineId"`
			Results []struct {
				Station     string `json:"station"`
				NextStation string `json:"nextStation"`
				Duration    string `json:"duration"`
			} `json:"results"`
		} `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Lines)
	assert.Equal(t, 3, resp.Arrivals)
	require.Len(t, resp.Batches, 2)

	central := resp.Batches[0]
	assert.Equal(t, "central", central.LineID)
	assert.NotEmpty(t, central.BatchID)
	require.Len(t, central.Results, 2)
	assert.Equal(t, "Bank", central.Results[0].Station)
	assert.Equal(t, "Liverpool Street", central.Results[0].NextStation)
	assert.Equal(t, "2m0s", central.Results[0].Duration)

	victoria := resp.Batches[1]
	require.Len(t, victoria.Results, 1)
	assert.Equal(t, "TERMINAL", victoria.Results[0].NextStation)
	assert.Equal(t, "N/A", victoria.Results[0].Duration)
}

func TestInferTfLFormat(t *testing.T) {
	body := `[{"id":"-1","lineId":"northern","stationName":"Camden Town Underground Station","vehicleId":"045",
		"towards":"Morden via Bank","destinationName":"Morden Underground Station","platformName":"Southbound - Platform 3",
		"expectedArrival":"2024-05-01T17:00:00Z"}]`

	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodPost, "/v1/infer?format=tfl", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"nextStation":"Euston"`)
}

func TestInferRejectsOversizedBatch(t *testing.T) {
	var arrivals []models.Arrival
	for i := 0; i < 3; i++ {
		arrivals = append(arrivals, models.Arrival{LineID: "central", StationName: "Bank", VehicleID: fmt.Sprint(i)})
	}
	body, err := json.Marshal(arrivals)
	require.NoError(t, err)

	rec := do(t, newTestRouter(t, nil, nil, 2), http.MethodPost, "/v1/infer", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	huge := `[{"lineId":"` + strings.Repeat("x", 3*bytesPerArrival) + `"}]`
	rec = do(t, newTestRouter(t, nil, nil, 1), http.MethodPost, "/v1/infer", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestInferBadBody(t *testing.T) {
	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodPost, "/v1/infer", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInferCancelled(t *testing.T) {
	rec := do(t, newTestRouter(t, cancelledRunner{}, nil, 10), http.MethodPost, "/v1/infer", `[]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInferLine(t *testing.T) {
	body := `[
		{"lineId":"jubilee","stationName":"Baker Street","vehicleId":"12","destination":"Stratford","expectedArrival":"2024-05-01T17:00:00Z"},
		{"lineId":"central","stationName":"Bank","vehicleId":"101","destination":"Epping","expectedArrival":"2024-05-01T17:00:00Z"}
	]`

	rec := do(t, newTestRouter(t, nil, nil, 10), http.MethodPost, "/v1/lines/jubilee/infer", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var lb struct {
		LineID  string `json:"lineId"`
		Results []struct {
			NextStation string `json:"nextStation"`
		} `json:"results"`
		Summary inference.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lb))
	assert.Equal(t, "jubilee", lb.LineID)
	require.Len(t, lb.Results, 1)
	assert.Equal(t, "Bond Street", lb.Results[0].NextStation)
	assert.Equal(t, 1, lb.Summary.Resolved)

	rec = do(t, newTestRouter(t, nil, nil, 10), http.MethodPost, "/v1/lines/monorail/infer", `[]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestResolve(t *testing.T) {
	h := newTestRouter(t, nil, nil, 10)

	rec := do(t, h, http.MethodPost, "/v1/resolve",
		`{"lineId":"central","station":"Leytonstone Underground Station","destination":"Hainault via Newbury Park"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Leytonstone", resp.Station)
	assert.Equal(t, "Hainault", resp.Destination)
	assert.Equal(t, "Newbury Park", resp.Via)
	assert.Equal(t, "Wanstead", resp.NextStation)
	assert.Equal(t, "sequence", resp.Reason)
	assert.NotEmpty(t, resp.Candidates)

	rec = do(t, h, http.MethodPost, "/v1/resolve", `{"lineId":"central"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/resolve", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/infer", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	newTestRouter(t, nil, nil, 10).ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
