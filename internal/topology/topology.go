// Package topology holds the per-line route data the resolver works against.
//
// A line is either Simple, described by an undirected adjacency map, or
// Branching, described by ordered route sequences selected by destination
// keyword. Stores are read-only once built and safe for concurrent use.
package topology

import (
	"errors"
	"sort"
	"strings"

	"github.com/tubetrace-engine/internal/normalize"
)

var (
	// ErrUnknownLine is returned when a line id has no topology.
	ErrUnknownLine = errors.New("unknown line")
	// ErrInvalidTopology wraps every validation failure found while loading.
	ErrInvalidTopology = errors.New("invalid topology")
)

// TerminalNext marks a junction rule whose outcome is the end of the route.
const TerminalNext = "TERMINAL"

type Kind int

const (
	KindSimple Kind = iota + 1
	KindBranching
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindBranching:
		return "branching"
	default:
		return "unknown"
	}
}

// Sequence is one directional path of a route, ending at the route terminus.
type Sequence struct {
	Route    string   `json:"route"`
	Keywords []string `json:"keywords"`
	Via      []string `json:"via,omitempty"`
	Stations []string `json:"stations"`
}

// Terminus is the last station of the sequence.
func (s Sequence) Terminus() string {
	if len(s.Stations) == 0 {
		return ""
	}
	return s.Stations[len(s.Stations)-1]
}

// Rule is one row of a junction override table.
type Rule struct {
	Keywords []string `json:"keywords"`
	Via      []string `json:"via,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Next     string   `json:"next"`
}

// Junction lists the override rules of a station, evaluated in order.
type Junction struct {
	Station string `json:"station"`
	Rules   []Rule `json:"rules"`
}

// Line is the topology of one line. Fields are shared with the store and
// must not be modified.
type Line struct {
	ID        string
	Kind      Kind
	Sequences []Sequence
	Adjacency map[string][]string
	Aliases   map[string]string
	Junctions map[string]Junction

	stations map[string]string
}

// Station returns the canonical spelling of a station on the line. The
// lookup ignores case and the suffixes stripped by normalize.Station.
func (l *Line) Station(name string) (string, bool) {
	canonical, ok := l.stations[key(name)]
	return canonical, ok
}

// Stations lists every station on the line in sorted order.
func (l *Line) Stations() []string {
	out := make([]string, 0, len(l.stations))
	for _, name := range l.stations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Junction returns the override table for a station, if any.
func (l *Line) Junction(station string) (Junction, bool) {
	j, ok := l.Junctions[key(station)]
	return j, ok
}

func (l *Line) index() {
	l.stations = make(map[string]string)
	add := func(name string) {
		if _, ok := l.stations[key(name)]; !ok {
			l.stations[key(name)] = name
		}
	}
	for _, seq := range l.Sequences {
		for _, s := range seq.Stations {
			add(s)
		}
	}
	for s, neighbours := range l.Adjacency {
		add(s)
		for _, n := range neighbours {
			add(n)
		}
	}
}

func key(name string) string {
	return strings.ToLower(normalize.Station(name))
}

// Store maps line ids to their topology.
type Store struct {
	lines map[string]*Line
}

// NewStore indexes the given lines by id, ignoring case.
func NewStore(lines []*Line) (*Store, error) {
	s := &Store{lines: make(map[string]*Line, len(lines))}
	var errs []error
	for _, l := range lines {
		id := strings.ToLower(strings.TrimSpace(l.ID))
		if id == "" {
			errs = append(errs, errors.New("line with empty id"))
			continue
		}
		if _, dup := s.lines[id]; dup {
			errs = append(errs, errors.New("duplicate line "+l.ID))
			continue
		}
		l.index()
		s.lines[id] = l
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidTopology}, errs...)...)
	}
	return s, nil
}

// Line looks up a line by id. A nil store has no lines.
func (s *Store) Line(id string) (*Line, bool) {
	if s == nil {
		return nil, false
	}
	l, ok := s.lines[strings.ToLower(strings.TrimSpace(id))]
	return l, ok
}

// SequencesFor returns the route sequences of a branching line. It reports
// false for unknown lines and for simple lines.
func (s *Store) SequencesFor(id string) ([]Sequence, bool) {
	l, ok := s.Line(id)
	if !ok || l.Kind != KindBranching {
		return nil, false
	}
	return l.Sequences, true
}

// AdjacencyFor returns a copy of a simple line's adjacency map. It reports
// false for unknown lines and for branching lines.
func (s *Store) AdjacencyFor(id string) (map[string][]string, bool) {
	l, ok := s.Line(id)
	if !ok || l.Kind != KindSimple {
		return nil, false
	}
	out := make(map[string][]string, len(l.Adjacency))
	for station, neighbours := range l.Adjacency {
		out[station] = append([]string(nil), neighbours...)
	}
	return out, true
}

// Lines returns the ids of all lines in sorted order.
func (s *Store) Lines() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.lines))
	for _, l := range s.lines {
		ids = append(ids, l.ID)
	}
	sort.Strings(ids)
	return ids
}

// NewBranchingLine builds a branching line from already expanded sequences.
func NewBranchingLine(id string, sequences []Sequence, junctions ...Junction) *Line {
	l := &Line{
		ID:        id,
		Kind:      KindBranching,
		Sequences: sequences,
		Junctions: make(map[string]Junction, len(junctions)),
	}
	for _, j := range junctions {
		l.Junctions[key(j.Station)] = j
	}
	return l
}

// NewSimpleLine builds a simple line. The adjacency is made symmetric.
func NewSimpleLine(id string, adjacency map[string][]string) *Line {
	sets := make(map[string]map[string]bool)
	add := func(a, b string) {
		if sets[a] == nil {
			sets[a] = make(map[string]bool)
		}
		sets[a][b] = true
	}
	for station, neighbours := range adjacency {
		if sets[station] == nil {
			sets[station] = make(map[string]bool)
		}
		for _, n := range neighbours {
			add(station, n)
			add(n, station)
		}
	}

	l := &Line{ID: id, Kind: KindSimple, Adjacency: make(map[string][]string, len(sets))}
	for station, set := range sets {
		list := make([]string, 0, len(set))
		for n := range set {
			list = append(list, n)
		}
		sort.Strings(list)
		l.Adjacency[station] = list
	}
	return l
}
