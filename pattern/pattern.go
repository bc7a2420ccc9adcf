// Package pattern implements the Service Pattern Resolver: given a line and
// a pattern name, it decides whether that pattern calls at a given station.
// The resolver is pure and deterministic; the network assembler caches
// its output for the lifetime of a Network.
package pattern

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tgrcode.com/railplan/loader"
)

// Result is the outcome of asking whether a pattern calls at a station.
type Result int

const (
	Calls Result = iota
	Skips
	Unknown
)

func (r Result) String() string {
	switch r {
	case Calls:
		return "CALLS"
	case Skips:
		return "SKIPS"
	default:
		return "UNKNOWN"
	}
}

// Resolved is the cached resolution of one pattern against one line: the
// set of station indices (within line.Stations) the pattern calls at, and
// any stop-set references that did not resolve to a station of this line.
type Resolved struct {
	PatternName string
	All         bool
	Members     map[int]bool
	Dangling    []string
}

// canonicalize applies the same name-matching normalisation the Network
// Assembler uses for station unification: Unicode NFC, trim, collapse
// internal whitespace to a single space. Case is preserved for exact
// matches but a case-insensitive pass is tried afterwards.
func canonicalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// findStationIndex resolves one stop-set reference against a line's own
// station list, trying in order: code exact, name exact, name
// case-insensitive, then trim/collapse-whitespace match.
func findStationIndex(line *loader.LineSpec, ref string) (int, bool) {
	for i, st := range line.Stations {
		if st.Code != "" && st.Code == ref {
			return i, true
		}
	}
	for i, st := range line.Stations {
		if st.Name == ref {
			return i, true
		}
	}
	for i, st := range line.Stations {
		if strings.EqualFold(st.Name, ref) {
			return i, true
		}
	}
	canonRef := canonicalize(ref)
	for i, st := range line.Stations {
		if canonicalize(st.Name) == canonRef {
			return i, true
		}
	}
	return 0, false
}

// Resolve computes the stop-set membership of one named pattern on one
// line. An error is returned only if the pattern does not exist on the
// line; dangling references are recorded, not errored.
func Resolve(line *loader.LineSpec, patternName string) (*Resolved, error) {
	spec, ok := line.Patterns[patternName]
	if !ok {
		return nil, fmt.Errorf("pattern %q does not exist on line %q", patternName, line.Name)
	}

	stopSet := spec.Shape.StopSetOf()

	resolved := &Resolved{PatternName: patternName, All: stopSet.All}

	if stopSet.All {
		// Every station of the line is called; no explicit member set
		// needed, At() special-cases All.
		return resolved, nil
	}

	members := make(map[int]bool, len(stopSet.StopRefs))
	var dangling []string
	for _, ref := range stopSet.StopRefs {
		if idx, ok := findStationIndex(line, ref); ok {
			members[idx] = true
		} else {
			dangling = append(dangling, ref)
		}
	}
	resolved.Members = members
	resolved.Dangling = dangling
	return resolved, nil
}

// At decides whether this resolved pattern calls at the station found at
// stationIndex within line.Stations. Returns Unknown if stationIndex is out
// of range for the line (the station does not belong to the line at all).
func (r *Resolved) At(line *loader.LineSpec, stationIndex int) Result {
	if stationIndex < 0 || stationIndex >= len(line.Stations) {
		return Unknown
	}
	if r.All {
		return Calls
	}
	if r.Members[stationIndex] {
		return Calls
	}
	return Skips
}

// AtRef decides CALLS | SKIPS | UNKNOWN for one station reference
// against one named pattern of a line. stationRef may be a name or code;
// it is resolved the same way stop-set references are.
func AtRef(line *loader.LineSpec, patternName, stationRef string) (Result, error) {
	resolved, err := Resolve(line, patternName)
	if err != nil {
		return Unknown, err
	}
	idx, ok := findStationIndex(line, stationRef)
	if !ok {
		return Unknown, nil
	}
	return resolved.At(line, idx), nil
}

// ResolveAll resolves every pattern declared on a line, used by the Network
// Assembler to pre-resolve pattern memberships once per line at startup.
func ResolveAll(line *loader.LineSpec) (map[string]*Resolved, error) {
	out := make(map[string]*Resolved, len(line.Patterns))
	for name := range line.Patterns {
		resolved, err := Resolve(line, name)
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}
