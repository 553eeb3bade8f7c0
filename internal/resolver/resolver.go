// Package resolver answers "which station does this vehicle call at next"
// from a line topology and the vehicle's stated destination.
package resolver

import (
	"sort"

	"github.com/tubetrace-engine/internal/normalize"
	"github.com/tubetrace-engine/internal/topology"
	"github.com/tubetrace-engine/pkg/tube/models"
)

// Reason explains how a resolution was reached.
type Reason string

const (
	ReasonJunction       Reason = "junction"
	ReasonSequence       Reason = "sequence"
	ReasonAdjacency      Reason = "adjacency"
	ReasonNoDestination  Reason = "no_destination"
	ReasonUnknownLine    Reason = "unknown_line"
	ReasonUnknownStation Reason = "unknown_station"
	ReasonNoRoute        Reason = "no_route"
	ReasonAmbiguous      Reason = "ambiguous"
)

// Resolution is a next-station answer together with its reason.
type Resolution struct {
	Next   models.Stop
	Reason Reason
}

func unknown(reason Reason) Resolution {
	return Resolution{Next: models.Unknown, Reason: reason}
}

type Resolver struct {
	store *topology.Store
}

// New returns a resolver over store. A nil store resolves everything to
// UNKNOWN.
func New(store *topology.Store) *Resolver {
	return &Resolver{store: store}
}

// NextStation returns the station after currentStation for a vehicle bound
// for destination, or TERMINAL / UNKNOWN. destination is the normalized
// destination; rawDestination still carries any "via" qualifier.
func (r *Resolver) NextStation(lineID, currentStation, destination, rawDestination string) models.Stop {
	return r.Resolve(lineID, currentStation, destination, rawDestination).Next
}

// Resolve is NextStation with the reason attached.
func (r *Resolver) Resolve(lineID, currentStation, destination, rawDestination string) Resolution {
	if normalize.IsUnknown(destination) {
		return unknown(ReasonNoDestination)
	}

	line, ok := r.store.Line(lineID)
	if !ok {
		return unknown(ReasonUnknownLine)
	}

	current, ok := line.Station(currentStation)
	if !ok {
		return unknown(ReasonUnknownStation)
	}

	via := normalize.Via(rawDestination)

	if j, ok := line.Junction(current); ok {
		if next, ok := applyJunction(line, j, destination, via, currentStation); ok {
			return Resolution{Next: next, Reason: ReasonJunction}
		}
	}

	switch line.Kind {
	case topology.KindBranching:
		return fromSequences(line, current, destination, via)
	case topology.KindSimple:
		return fromAdjacency(line, current, destination)
	default:
		return unknown(ReasonUnknownLine)
	}
}

// applyJunction evaluates override rules in order. The first rule whose
// keywords, via qualifier and platform all match decides the successor.
func applyJunction(line *topology.Line, j topology.Junction, destination, via, rawStation string) (models.Stop, bool) {
	for _, rule := range j.Rules {
		if longestKeyword(rule.Keywords, destination) == 0 {
			continue
		}
		if len(rule.Via) > 0 && !viaMatches(via, rule.Via) {
			continue
		}
		if rule.Platform != "" && !normalize.Contains(rawStation, rule.Platform) {
			continue
		}
		if rule.Next == topology.TerminalNext {
			return models.Terminal, true
		}
		next, ok := line.Station(rule.Next)
		if !ok {
			return "", false
		}
		return models.Stop(next), true
	}
	return "", false
}

func fromSequences(line *topology.Line, current, destination, via string) Resolution {
	candidates := selectSequences(line.Sequences, destination, via)
	if len(candidates) == 0 {
		return unknown(ReasonNoRoute)
	}

	var (
		answer models.Stop
		found  bool
	)
	for _, seq := range candidates {
		for i, s := range seq.Stations {
			if !normalize.Equal(s, current) {
				continue
			}
			next := models.Terminal
			if i < len(seq.Stations)-1 {
				next = models.Stop(seq.Stations[i+1])
			}
			if found && next != answer {
				return unknown(ReasonAmbiguous)
			}
			answer, found = next, true
		}
	}

	if !found {
		return unknown(ReasonUnknownStation)
	}
	return Resolution{Next: answer, Reason: ReasonSequence}
}

// selectSequences keeps the sequences whose keywords best match the
// destination, then narrows them by the via qualifier.
func selectSequences(sequences []topology.Sequence, destination, via string) []topology.Sequence {
	best := 0
	var matched []topology.Sequence
	for _, seq := range sequences {
		n := longestKeyword(seq.Keywords, destination)
		if n == 0 || n < best {
			continue
		}
		if n > best {
			best = n
			matched = matched[:0]
		}
		matched = append(matched, seq)
	}
	if len(matched) == 0 {
		return nil
	}

	if via != "" {
		var viaMatched []topology.Sequence
		for _, seq := range matched {
			if len(seq.Via) > 0 && viaMatches(via, seq.Via) {
				viaMatched = append(viaMatched, seq)
			}
		}
		if len(viaMatched) > 0 {
			return viaMatched
		}
	}

	var open []topology.Sequence
	for _, seq := range matched {
		if len(seq.Via) == 0 {
			open = append(open, seq)
		}
	}
	if len(open) > 0 {
		return open
	}
	return matched
}

func longestKeyword(keywords []string, destination string) int {
	best := 0
	for _, kw := range keywords {
		if normalize.Contains(destination, kw) && len(kw) > best {
			best = len(kw)
		}
	}
	return best
}

func viaMatches(via string, accepted []string) bool {
	for _, v := range accepted {
		if normalize.Contains(via, v) {
			return true
		}
	}
	return false
}

func fromAdjacency(line *topology.Line, current, destination string) Resolution {
	targets := destinationStations(line, destination)
	if len(targets) == 0 {
		return unknown(ReasonNoRoute)
	}

	var (
		answer models.Stop
		found  bool
	)
	for _, target := range targets {
		var hops []string
		if normalize.Equal(target, current) {
			hops = []string{string(models.Terminal)}
		} else {
			hops = firstHops(line.Adjacency, current, target)
		}
		for _, h := range hops {
			if found && models.Stop(h) != answer {
				return unknown(ReasonAmbiguous)
			}
			answer, found = models.Stop(h), true
		}
	}

	if !found {
		return unknown(ReasonNoRoute)
	}
	return Resolution{Next: answer, Reason: ReasonAdjacency}
}

// destinationStations finds the stations a destination can refer to: an
// alias, an exact station name, or every station matching fuzzily.
func destinationStations(line *topology.Line, destination string) []string {
	if len(line.Aliases) > 0 {
		aliases := make([]string, 0, len(line.Aliases))
		for alias := range line.Aliases {
			aliases = append(aliases, alias)
		}
		sort.Slice(aliases, func(i, j int) bool {
			if len(aliases[i]) != len(aliases[j]) {
				return len(aliases[i]) > len(aliases[j])
			}
			return aliases[i] < aliases[j]
		})
		for _, alias := range aliases {
			if normalize.Contains(destination, alias) {
				return []string{line.Aliases[alias]}
			}
		}
	}

	if station, ok := line.Station(destination); ok {
		return []string{station}
	}

	name := normalize.Station(destination)
	var out []string
	for _, station := range line.Stations() {
		if normalize.Matches(name, station) {
			out = append(out, station)
		}
	}
	return out
}

// firstHops runs a breadth-first search from `from` and returns every
// neighbour of `from` that starts a shortest path to `to`.
func firstHops(adjacency map[string][]string, from, to string) []string {
	dist := map[string]int{from: 0}
	hops := make(map[string]map[string]bool)
	queue := []string{from}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adjacency[u] {
			d, seen := dist[v]
			if !seen {
				dist[v] = dist[u] + 1
				hops[v] = make(map[string]bool)
				queue = append(queue, v)
			} else if d != dist[u]+1 {
				continue
			}
			if u == from {
				hops[v][v] = true
				continue
			}
			for h := range hops[u] {
				hops[v][h] = true
			}
		}
	}

	var out []string
	for h := range hops[to] {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Candidates lists the route names that would be considered for a
// destination on a branching line.
func (r *Resolver) Candidates(lineID, destination, rawDestination string) []string {
	line, ok := r.store.Line(lineID)
	if !ok || line.Kind != topology.KindBranching {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, seq := range selectSequences(line.Sequences, destination, normalize.Via(rawDestination)) {
		if !seen[seq.Route] {
			seen[seq.Route] = true
			out = append(out, seq.Route)
		}
	}
	return out
}
