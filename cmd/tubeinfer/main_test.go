package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const sample = `[
  {"id":"1","lineId":"central","stationName":"Bank Underground Station","vehicleId":"101",
   "towards":"Epping","destinationName":"Epping Underground Station","expectedArrival":"2024-05-01T17:00:00Z"},
  {"id":"2","lineId":"central","stationName":"Liverpool Street Underground Station","vehicleId":"101",
   "towards":"Epping","destinationName":"Epping Underground Station","expectedArrival":"2024-05-01T17:02:30Z"},
  {"id":"3","lineId":"jubilee","stationName":"Stratford Underground Station","vehicleId":"0",
   "towards":"Check Front of Train","destinationName":"Stratford Underground Station","expectedArrival":"2024-05-01T17:00:00Z"}
]`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arrivals.json")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type output []struct {
	LineID  string `json:"lineId"`
	Results []struct {
		Station     string `json:"station"`
		Destination string `json:"destination"`
		NextStation string `json:"nextStation"`
		Duration    string `json:"duration"`
	} `json:"results"`
}

func TestRunAllLines(t *testing.T) {
	var buf bytes.Buffer
	if err := run(writeSample(t), "", "", "tfl", false, 2, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}

	var got output
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 2 || got[0].LineID != "central" || got[1].LineID != "jubilee" {
		t.Fatalf("unexpected batches: %+v", got)
	}

	bank := got[0].Results[0]
	if bank.NextStation != "Liverpool Street" || bank.Duration != "2m30s" {
		t.Errorf("Bank result = %+v", bank)
	}
	stratford := got[1].Results[0]
	if stratford.Destination != "Stratford Underground Station" || stratford.NextStation != "TERMINAL" {
		t.Errorf("Stratford result = %+v", stratford)
	}
}

func TestRunSingleLine(t *testing.T) {
	var buf bytes.Buffer
	if err := run(writeSample(t), "", "Jubilee", "tfl", true, 1, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}

	var got output
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 1 || len(got[0].Results) != 1 {
		t.Fatalf("unexpected batches: %+v", got)
	}
}

func TestRunErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := run(filepath.Join(t.TempDir(), "missing.json"), "", "", "tfl", false, 1, &buf); err == nil {
		t.Error("missing input should fail")
	}
	if err := run(writeSample(t), "", "", "xml", false, 1, &buf); err == nil {
		t.Error("unknown format should fail")
	}
	if err := run(writeSample(t), filepath.Join(t.TempDir(), "none.yaml"), "", "tfl", false, 1, &buf); err == nil {
		t.Error("missing topology should fail")
	}
}
