package topology

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed data/london.yaml
var londonYAML []byte

type fileSpec struct {
	Lines map[string]lineSpec `yaml:"lines"`
}

type lineSpec struct {
	Segments  map[string][]string   `yaml:"segments"`
	Routes    []routeSpec           `yaml:"routes"`
	Junctions map[string][]ruleSpec `yaml:"junctions"`
	Chains    [][]string            `yaml:"chains"`
	Adjacency map[string][]string   `yaml:"adjacency"`
	Aliases   map[string]string     `yaml:"aliases"`
}

type routeSpec struct {
	Name     string     `yaml:"name"`
	Keywords []string   `yaml:"keywords"`
	Via      []string   `yaml:"via"`
	Until    string     `yaml:"until"`
	Paths    [][]string `yaml:"paths"`
}

type ruleSpec struct {
	Keywords []string `yaml:"keywords"`
	Via      []string `yaml:"via"`
	Platform string   `yaml:"platform"`
	Next     string   `yaml:"next"`
}

// Default returns the embedded London network.
func Default() (*Store, error) {
	return Load(bytes.NewReader(londonYAML))
}

// LoadFile reads a topology document from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topology file: %w", err)
	}
	defer f.Close()

	store, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology file %s: %w", path, err)
	}
	return store, nil
}

// Load parses and validates a YAML topology document. All validation
// problems are reported together.
func Load(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}

	var spec fileSpec
	if err := yaml.UnmarshalStrict(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	if len(spec.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines defined", ErrInvalidTopology)
	}

	ids := make([]string, 0, len(spec.Lines))
	for id := range spec.Lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		lines []*Line
		errs  []error
	)
	for _, id := range ids {
		line, lineErrs := buildLine(id, spec.Lines[id])
		if len(lineErrs) > 0 {
			for _, e := range lineErrs {
				errs = append(errs, fmt.Errorf("line %s: %w", id, e))
			}
			continue
		}
		lines = append(lines, line)
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidTopology}, errs...)...)
	}

	return NewStore(lines)
}

func buildLine(id string, spec lineSpec) (*Line, []error) {
	branching := len(spec.Segments) > 0 || len(spec.Routes) > 0
	simple := len(spec.Chains) > 0 || len(spec.Adjacency) > 0

	switch {
	case branching && simple:
		return nil, []error{errors.New("declares both routes and adjacency")}
	case !branching && !simple:
		return nil, []error{errors.New("declares neither routes nor adjacency")}
	case branching:
		return buildBranching(id, spec)
	default:
		return buildSimple(id, spec)
	}
}

func buildBranching(id string, spec lineSpec) (*Line, []error) {
	line := &Line{ID: id, Kind: KindBranching}
	var errs []error

	if len(spec.Aliases) > 0 {
		errs = append(errs, errors.New("aliases are only supported on simple lines"))
	}

	line.Junctions = make(map[string]Junction, len(spec.Junctions))
	for station, rules := range spec.Junctions {
		j := Junction{Station: station}
		for i, r := range rules {
			if len(r.Keywords) == 0 {
				errs = append(errs, fmt.Errorf("junction %s rule %d: no keywords", station, i))
			}
			if strings.TrimSpace(r.Next) == "" {
				errs = append(errs, fmt.Errorf("junction %s rule %d: no next station", station, i))
			}
			j.Rules = append(j.Rules, Rule(r))
		}
		line.Junctions[key(station)] = j
	}

	for _, route := range spec.Routes {
		if route.Name == "" {
			errs = append(errs, errors.New("route without name"))
			continue
		}
		if len(route.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("route %s: no keywords", route.Name))
		}
		if len(route.Paths) == 0 {
			errs = append(errs, fmt.Errorf("route %s: no paths", route.Name))
		}
		for i, path := range route.Paths {
			stations, err := expandPath(spec.Segments, path)
			if err == nil && route.Until != "" {
				stations, err = truncate(stations, route.Until)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("route %s path %d: %w", route.Name, i, err))
				continue
			}
			if err := checkRepeats(stations, line.Junctions); err != nil {
				errs = append(errs, fmt.Errorf("route %s path %d: %w", route.Name, i, err))
				continue
			}
			line.Sequences = append(line.Sequences, Sequence{
				Route:    route.Name,
				Keywords: route.Keywords,
				Via:      route.Via,
				Stations: stations,
			})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	line.index()
	for _, j := range line.Junctions {
		if _, ok := line.Station(j.Station); !ok {
			errs = append(errs, fmt.Errorf("junction %s is not on the line", j.Station))
		}
		for _, r := range j.Rules {
			if r.Next == TerminalNext {
				continue
			}
			if _, ok := line.Station(r.Next); !ok {
				errs = append(errs, fmt.Errorf("junction %s: next station %s is not on the line", j.Station, r.Next))
			}
		}
	}
	return line, errs
}

// expandPath joins segment references into one ordered station list. A
// reference prefixed with "~" is walked in reverse.
func expandPath(segments map[string][]string, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, errors.New("empty path")
	}

	var out []string
	for _, ref := range refs {
		name, reversed := strings.CutPrefix(ref, "~")
		seg, ok := segments[name]
		if !ok {
			return nil, fmt.Errorf("unknown segment %q", name)
		}
		if len(seg) < 2 {
			return nil, fmt.Errorf("segment %q has fewer than two stations", name)
		}

		stations := append([]string(nil), seg...)
		if reversed {
			for i, j := 0, len(stations)-1; i < j; i, j = i+1, j-1 {
				stations[i], stations[j] = stations[j], stations[i]
			}
		}

		if len(out) == 0 {
			out = stations
			continue
		}
		if key(out[len(out)-1]) != key(stations[0]) {
			return nil, fmt.Errorf("segment %q starts at %s, not %s", ref, stations[0], out[len(out)-1])
		}
		out = append(out, stations[1:]...)
	}
	return out, nil
}

func truncate(stations []string, until string) ([]string, error) {
	for i, s := range stations {
		if key(s) == key(until) {
			return stations[:i+1], nil
		}
	}
	return nil, fmt.Errorf("until station %s not on path", until)
}

// checkRepeats allows a station twice in one sequence only when a junction
// override decides its successor.
func checkRepeats(stations []string, junctions map[string]Junction) error {
	seen := make(map[string]bool, len(stations))
	for _, s := range stations {
		k := key(s)
		if seen[k] {
			if _, ok := junctions[k]; !ok {
				return fmt.Errorf("station %s repeats without a junction override", s)
			}
		}
		seen[k] = true
	}
	return nil
}

func buildSimple(id string, spec lineSpec) (*Line, []error) {
	line := &Line{ID: id, Kind: KindSimple, Adjacency: make(map[string][]string)}
	var errs []error

	if len(spec.Junctions) > 0 {
		errs = append(errs, errors.New("junction overrides are only supported on branching lines"))
	}

	neighbours := make(map[string]map[string]bool)
	names := make(map[string]string)
	link := func(a, b string) {
		ka, kb := key(a), key(b)
		if ka == kb {
			errs = append(errs, fmt.Errorf("station %s is adjacent to itself", a))
			return
		}
		for _, pair := range [][2]string{{ka, a}, {kb, b}} {
			if _, ok := names[pair[0]]; !ok {
				names[pair[0]] = pair[1]
				neighbours[pair[0]] = make(map[string]bool)
			}
		}
		neighbours[ka][kb] = true
		neighbours[kb][ka] = true
	}

	for i, chain := range spec.Chains {
		if len(chain) < 2 {
			errs = append(errs, fmt.Errorf("chain %d has fewer than two stations", i))
			continue
		}
		for j := 1; j < len(chain); j++ {
			link(chain[j-1], chain[j])
		}
	}
	for station, adjacent := range spec.Adjacency {
		for _, n := range adjacent {
			link(station, n)
		}
	}

	for k, set := range neighbours {
		list := make([]string, 0, len(set))
		for n := range set {
			list = append(list, names[n])
		}
		sort.Strings(list)
		line.Adjacency[names[k]] = list
	}
	line.index()

	if len(spec.Aliases) > 0 {
		line.Aliases = make(map[string]string, len(spec.Aliases))
		for alias, station := range spec.Aliases {
			canonical, ok := line.Station(station)
			if !ok {
				errs = append(errs, fmt.Errorf("alias %q names unknown station %s", alias, station))
				continue
			}
			line.Aliases[strings.ToLower(alias)] = canonical
		}
	}
	return line, errs
}
