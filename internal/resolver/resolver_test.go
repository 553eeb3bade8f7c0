package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

func fixture(t *testing.T) *Resolver {
	t.Helper()

	store, err := topology.NewStore([]*topology.Line{
		topology.NewBranchingLine("test", []topology.Sequence{
			{Route: "c-bound", Keywords: []string{"cee"}, Stations: []string{"A", "B", "C"}},
			{Route: "a-bound", Keywords: []string{"ay"}, Stations: []string{"C", "B", "A"}},
		}),
		topology.NewBranchingLine("fork", []topology.Sequence{
			{Route: "north-fast", Keywords: []string{"north"}, Via: []string{"fast"}, Stations: []string{"S", "J", "P", "N"}},
			{Route: "north-slow", Keywords: []string{"north"}, Via: []string{"slow"}, Stations: []string{"S", "J", "Q", "N"}},
		}, topology.Junction{
			Station: "J",
			Rules: []topology.Rule{
				{Keywords: []string{"north"}, Via: []string{"slow"}, Next: "Q"},
				{Keywords: []string{"north"}, Platform: "platform 9", Next: "P"},
			},
		}),
		topology.NewSimpleLine("loop", map[string][]string{
			"A": {"B", "D"},
			"B": {"C"},
			"D": {"C"},
		}),
	})
	require.NoError(t, err)
	return New(store)
}

func london(t *testing.T) *Resolver {
	t.Helper()
	store, err := topology.Default()
	require.NoError(t, err)
	return New(store)
}

func next(r *Resolver, line, station, rawDestination string) models.Stop {
	return r.NextStation(line, station, normalize.Destination(rawDestination), rawDestination)
}

func TestSequenceSuccessor(t *testing.T) {
	r := fixture(t)

	assert.Equal(t, models.Stop("C"), next(r, "test", "B", "Cee"))
	assert.Equal(t, models.Stop("A"), next(r, "test", "B", "Ay"))
	assert.Equal(t, models.Stop("B"), next(r, "test", "a", "Cee"))
}

func TestSequenceTerminal(t *testing.T) {
	r := fixture(t)

	res := r.Resolve("test", "C", "Cee", "Cee")
	assert.Equal(t, models.Terminal, res.Next)
	assert.Equal(t, ReasonSequence, res.Reason)
}

func TestStationNotInSequence(t *testing.T) {
	r := fixture(t)

	res := r.Resolve("test", "Z", "Cee", "Cee")
	assert.Equal(t, models.Unknown, res.Next)
	assert.Equal(t, ReasonUnknownStation, res.Reason)
}

func TestUnknownDestinationNeverResolves(t *testing.T) {
	r := london(t)
	store, _ := topology.Default()

	for _, line := range store.Lines() {
		l, _ := store.Line(line)
		for _, station := range l.Stations() {
			for _, raw := range []string{"", "   "} {
				got := r.NextStation(line, station, normalize.Destination(raw), raw)
				assert.Equal(t, models.Unknown, got, "%s/%s", line, station)
			}
		}
	}
}

func TestUnknownLine(t *testing.T) {
	r := fixture(t)

	res := r.Resolve("dlr", "A", "Cee", "Cee")
	assert.Equal(t, models.Unknown, res.Next)
	assert.Equal(t, ReasonUnknownLine, res.Reason)

	assert.Equal(t, models.Unknown, New(nil).NextStation("test", "A", "Cee", "Cee"))
}

func TestNoMatchingRoute(t *testing.T) {
	r := fixture(t)

	res := r.Resolve("test", "B", "Check Front of Train", "Check Front of Train")
	assert.Equal(t, models.Unknown, res.Next)
	assert.Equal(t, ReasonNoRoute, res.Reason)
}

func TestViaSelectsSequence(t *testing.T) {
	r := fixture(t)

	assert.Equal(t, models.Stop("N"), next(r, "fork", "P", "North via Fast"))
	assert.Equal(t, models.Stop("N"), next(r, "fork", "Q", "North via Slow"))
	assert.Equal(t, models.Stop("J"), next(r, "fork", "S", "North"), "both sequences agree")
}

func TestAmbiguousSequencesReturnUnknown(t *testing.T) {
	store, err := topology.NewStore([]*topology.Line{
		topology.NewBranchingLine("fork", []topology.Sequence{
			{Route: "one", Keywords: []string{"north"}, Stations: []string{"S", "J", "P", "N"}},
			{Route: "two", Keywords: []string{"north"}, Stations: []string{"S", "J", "Q", "N"}},
		}),
	})
	require.NoError(t, err)
	r := New(store)

	res := r.Resolve("fork", "J", "North", "North")
	assert.Equal(t, models.Unknown, res.Next)
	assert.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestJunctionOverride(t *testing.T) {
	r := fixture(t)

	res := r.Resolve("fork", "J", "North", "North via Slow")
	assert.Equal(t, models.Stop("Q"), res.Next)
	assert.Equal(t, ReasonJunction, res.Reason)

	res = r.Resolve("fork", "J Platform 9", "North", "North")
	assert.Equal(t, models.Unknown, res.Next, "platform text is not part of the station name")

	// No rule matches, so the generic sequences decide.
	res = r.Resolve("fork", "J", "North", "North via Fast")
	assert.Equal(t, models.Stop("P"), res.Next)
	assert.Equal(t, ReasonSequence, res.Reason)

	res = r.Resolve("fork", "J", "North", "North")
	assert.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestSimpleLineShortestPath(t *testing.T) {
	r := fixture(t)

	assert.Equal(t, models.Stop("B"), next(r, "loop", "A", "B"))
	assert.Equal(t, models.Terminal, next(r, "loop", "C", "C"))

	// A to C is two hops either way round the loop.
	res := r.Resolve("loop", "A", "C", "C")
	assert.Equal(t, models.Unknown, res.Next)
	assert.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestFirstHops(t *testing.T) {
	adj := map[string][]string{
		"A": {"B", "D"},
		"B": {"A", "C"},
		"C": {"B", "D", "E"},
		"D": {"A", "C"},
		"E": {"C"},
	}

	assert.Equal(t, []string{"B"}, firstHops(adj, "A", "B"))
	assert.Equal(t, []string{"B", "D"}, firstHops(adj, "A", "E"))
	assert.Equal(t, []string{"C"}, firstHops(adj, "E", "A"))
	assert.Empty(t, firstHops(adj, "A", "Z"))
}

func TestLondon(t *testing.T) {
	r := london(t)

	tests := []struct {
		line    string
		station string
		towards string
		want    models.Stop
	}{
		// Central
		{"central", "Bank Underground Station", "Epping", "Liverpool Street"},
		{"central", "Liverpool Street", "West Ruislip", "Bank"},
		{"central", "North Acton", "Ealing Broadway", "West Acton"},
		{"central", "North Acton", "West Ruislip", "Hanger Lane"},
		{"central", "Leytonstone", "Hainault via Newbury Park", "Wanstead"},
		{"central", "Leytonstone", "Hainault via Woodford", "Snaresbrook"},
		{"central", "Leytonstone", "Hainault", models.Unknown},
		{"central", "Bank", "Hainault", "Liverpool Street"},
		{"central", "Hainault", "Woodford via Hainault", "Grange Hill"},
		{"central", "Epping", "Epping", models.Terminal},
		{"central", "Loughton", "Loughton", models.Terminal},
		{"central", "White City", "White City", models.Terminal},
		// Northern
		{"northern", "Camden Town", "Morden via Bank", "Euston"},
		{"northern", "Camden Town", "Morden via Charing Cross", "Mornington Crescent"},
		{"northern", "Camden Town", "Morden", models.Unknown},
		{"northern", "Camden Town", "Edgware via Bank", "Chalk Farm"},
		{"northern", "Camden Town", "High Barnet via CX", "Kentish Town"},
		{"northern", "Euston", "Mill Hill East via Bank", "Camden Town"},
		{"northern", "Kennington", "Battersea Power Station via Charing Cross", "Nine Elms"},
		{"northern", "Kennington", "Morden", "Oval"},
		{"northern", "Kennington", "Kennington via CX", models.Terminal},
		{"northern", "Finchley Central", "Mill Hill East via Bank", "Mill Hill East"},
		// District
		{"district", "Earl's Court", "Upminster", "Gloucester Road"},
		{"district", "Earl's Court", "Richmond", "West Kensington"},
		{"district", "Earl's Court", "Wimbledon", "West Brompton"},
		{"district", "Earl's Court", "Edgware Road", "High Street Kensington"},
		{"district", "Gloucester Road", "Ealing Broadway", "Earl's Court"},
		{"district", "Turnham Green", "Richmond", "Gunnersbury"},
		{"district", "Turnham Green", "Ealing Broadway", "Chiswick Park"},
		{"district", "Tower Hill", "Tower Hill", models.Terminal},
		{"district", "Earl's Court", "Kensington (Olympia)", "Kensington (Olympia)"},
		// Circle
		{"circle", "Edgware Road (Circle Line) Underground Station", "Edgware Road (Circle Line)", models.Terminal},
		{"circle", "Edgware Road (Circle Line) Underground Station", "Hammersmith", "Paddington"},
		{"circle", "Paddington (H&C Line) Underground Station", "Hammersmith", "Royal Oak"},
		{"circle", "Paddington Underground Station", "Hammersmith", "Bayswater"},
		{"circle", "Bayswater", "Edgware Road", "Paddington"},
		{"circle", "Baker Street", "Hammersmith", "Edgware Road"},
		{"circle", "Baker Street", "Edgware Road", "Great Portland Street"},
		// Bakerloo
		{"bakerloo", "Oxford Circus", "Elephant & Castle", "Piccadilly Circus"},
		{"bakerloo", "Oxford Circus", "Harrow & Wealdstone", "Regent's Park"},
		{"bakerloo", "Queen's Park", "Queen's Park", models.Terminal},
		// Simple lines
		{"victoria", "Stockwell", "Brixton", "Brixton"},
		{"victoria", "Brixton", "Brixton", models.Terminal},
		{"victoria", "Brixton", "Walthamstow Central", "Stockwell"},
		{"piccadilly", "Acton Town", "Uxbridge", "Ealing Common"},
		{"piccadilly", "Acton Town", "Heathrow T123 + 5", "South Ealing"},
		{"piccadilly", "Hatton Cross", "Heathrow T123 + 5", "Heathrow Terminals 2 & 3"},
		{"piccadilly", "Hatton Cross", "Heathrow via T4 Loop", models.Unknown},
		{"piccadilly", "Acton Town", "Heathrow via T4 Loop", "South Ealing"},
		{"piccadilly", "Acton Town", "Walthamstow Central", models.Unknown},
		{"metropolitan", "Harrow-on-the-Hill", "Amersham", "North Harrow"},
		{"metropolitan", "Harrow-on-the-Hill", "Uxbridge", "West Harrow"},
		{"metropolitan", "Moor Park", "Watford", "Croxley"},
		{"metropolitan", "Baker Street", "Aldgate", "Great Portland Street"},
		{"waterloo-city", "Waterloo", "Bank", "Bank"},
		{"elizabeth", "Liverpool Street", "Shenfield", "Stratford"},
		{"elizabeth", "Liverpool Street", "Abbey Wood", "Whitechapel"},
		{"elizabeth", "Liverpool Street", "Liverpool Street", models.Terminal},
		{"jubilee", "Baker Street", "Stratford", "Bond Street"},
		{"hammersmith-city", "Baker Street", "Hammersmith", "Edgware Road"},
	}

	for _, tt := range tests {
		got := next(r, tt.line, tt.station, tt.towards)
		assert.Equal(t, tt.want, got, "%s at %s towards %s", tt.line, tt.station, tt.towards)
	}
}

func TestCandidates(t *testing.T) {
	r := london(t)

	assert.Equal(t, []string{"hainault-via-newbury-park"}, r.Candidates("central", "Hainault", "Hainault via Newbury Park"))
	assert.Equal(t, []string{"hainault-via-newbury-park", "hainault-via-woodford"}, r.Candidates("central", "Hainault", "Hainault"))
	assert.Equal(t, []string{"woodford"}, r.Candidates("central", "Woodford", "Woodford"))
	assert.Nil(t, r.Candidates("victoria", "Brixton", "Brixton"))
}
