package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 17, 0, 5, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-05-01T17:00:05Z", want, false},
		{"2024-05-01T18:00:05+01:00", want, false},
		{" 2024-05-01T17:00:05Z ", want, false},
		{"2024-05-01T17:00:05", want, false},
		{"2024-05-01T17:00:05.250", want.Add(250 * time.Millisecond), false},
		{"2024-05-01T17:00:05.5Z", want.Add(500 * time.Millisecond), false},
		{"", time.Time{}, true},
		{"01/05/2024 17:00", time.Time{}, true},
		{"2024-05-01", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimestamp(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) = %v, want %v UTC", tt.in, got, tt.want)
		}
	}
}

func TestTracked(t *testing.T) {
	for id, want := range map[string]bool{
		"":     false,
		"0":    false,
		"000":  false,
		" 00 ": false,
		"101":  true,
		"0a":   true,
		"1000": true,
	} {
		if got := (Arrival{VehicleID: id}).Tracked(); got != want {
			t.Errorf("Tracked(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{2 * time.Minute, "2m0s"},
		{140 * time.Second, "2m20s"},
		{59*time.Second + 900*time.Millisecond, "0m59s"},
		{12*time.Minute + 5*time.Second, "12m5s"},
		{-time.Second, "0m0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEstimateString(t *testing.T) {
	if got := (Estimate{}).String(); got != NotApplicable {
		t.Errorf("zero estimate = %q, want N/A", got)
	}
	if got := (Estimate{Value: time.Minute, Source: SourceNone}).String(); got != NotApplicable {
		t.Errorf("none estimate = %q, want N/A", got)
	}
	if got := (Estimate{Value: 90 * time.Second, Source: SourceExact}).String(); got != "1m30s" {
		t.Errorf("exact estimate = %q, want 1m30s", got)
	}
}

func TestStopIsStation(t *testing.T) {
	if Terminal.IsStation() || Unknown.IsStation() || Stop("").IsStation() {
		t.Error("sentinels must not be stations")
	}
	if !Stop("Bank").IsStation() {
		t.Error("Bank should be a station")
	}
}

func TestResultJSON(t *testing.T) {
	r := Result{
		LineID:      "central",
		Station:     "Bank",
		Destination: "Epping",
		NextStation: "Liverpool Street",
		Reason:      "sequence",
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	for _, want := range []string{
		`"nextStation":"Liverpool Street"`,
		`"duration":"N/A"`,
		`"durationSource":"none"`,
		`"reason":"sequence"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("%s missing from %s", want, got)
		}
	}
	if strings.Contains(got, "vehicleId") {
		t.Errorf("empty vehicle id should be omitted: %s", got)
	}
}

func TestDecodeTfLArrivals(t *testing.T) {
	body := `[
		{"id":"1","lineId":"northern","stationName":"Camden Town Underground Station","vehicleId":"045",
		 "towards":"Morden via Bank","destinationName":"Morden Underground Station","expectedArrival":"2024-05-01T17:00:00Z"},
		{"id":"2","lineId":"northern","stationName":"Euston Underground Station","vehicleId":"046",
		 "towards":"Check Front of Train","destinationName":"Edgware Underground Station","expectedArrival":"2024-05-01T17:01:00Z"},
		{"id":"3","lineId":"northern","stationName":"Euston Underground Station","vehicleId":"047",
		 "towards":"","destinationName":"","expectedArrival":"2024-05-01T17:02:00Z"}
	]`

	arrivals, err := DecodeTfLArrivals(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeTfLArrivals: %v", err)
	}
	if len(arrivals) != 3 {
		t.Fatalf("got %d arrivals, want 3", len(arrivals))
	}

	wantDest := []string{"Morden via Bank", "Edgware Underground Station", ""}
	for i, a := range arrivals {
		if a.Destination != wantDest[i] {
			t.Errorf("arrival %d destination = %q, want %q", i, a.Destination, wantDest[i])
		}
		if a.LineID != "northern" {
			t.Errorf("arrival %d line = %q", i, a.LineID)
		}
	}

	if _, err := DecodeTfLArrivals(strings.NewReader(`{"not":"an array"}`)); err == nil {
		t.Error("expected an error for a non-array body")
	}
}
