// Package network implements the network assembler: it fuses many parsed
// LineSpecs into one immutable, arena-indexed Network graph. Station
// cross-references, line cross-references, and pattern membership are all
// resolved to dense integer ids at assembly time; no pointer cycles exist
// in the frozen graph.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RyanCarrier/dijkstra/v2"
	"golang.org/x/text/unicode/norm"

	"tgrcode.com/railplan/internal/geo"
	"tgrcode.com/railplan/loader"
	"tgrcode.com/railplan/pattern"
	"tgrcode.com/railplan/timetable"
)

// StationID indexes Network.Stations.
type StationID int

// LineID indexes Network.Lines.
type LineID int

// Station is the unified, cross-line representation of one physical
// station.
type Station struct {
	ID              StationID
	CanonicalName   string // NFC, trimmed, whitespace-collapsed — the unification key
	DisplayName     string // first-seen raw name, used for presentation
	Codes           []string
	Lat, Lng        float64
	Zone            *int
	InterchangeTags []string
	LineMemberships []LineID
}

// LineStationRef is one line's membership of a station, carrying the
// index of that station within the line's own ordered station list (needed
// by the pattern resolver, which works in line-local indices).
type LineStationRef struct {
	Station    StationID
	LocalIndex int
}

// Line is one operator's named corridor, with its station sequence
// resolved to Network station ids.
type Line struct {
	ID        LineID
	Spec      *loader.LineSpec
	Stations  []LineStationRef
	Patterns  map[string]*pattern.Resolved
	Timetable *timetable.Index
}

// EdgeKind distinguishes intra-line travel edges from interchange edges.
type EdgeKind int

const (
	IntraLine EdgeKind = iota
	InterchangeSelfLoop
	InterchangeWalk
)

// Edge is one directed arc of the routing graph. Intra-line edges are
// emitted once per direction of travel (u->v and v->u both appear, since
// trains run both ways along the ordered station list in general). Transfer
// edges are symmetric and also emitted once per direction.
type Edge struct {
	Kind          EdgeKind
	From, To      StationID
	Line          LineID // -1 for interchange edges
	Patterns      []string
	WeightMinutes int
}

const noLine = LineID(-1)

// CodeCollision records that a station code maps to more than one station.
type CodeCollision struct {
	Code     string
	Stations []StationID
}

// CoordinateAnomaly records that the raw entries unified into one station
// disagreed on position by more than the unification radius.
type CoordinateAnomaly struct {
	CanonicalName string
	SpreadMeters  float64
	Entries       int
}

// AssemblyReport is returned alongside the frozen Network, surfacing the
// build-time conditions that are collected rather than raised.
type AssemblyReport struct {
	DanglingReferences     map[string][]string // line name -> dangling refs across its patterns
	CodeCollisions         []CodeCollision
	CoordinateAnomalies    []CoordinateAnomaly
	PatternEmptyWarnings   []string
	LoaderWarnings         map[string][]loader.Warning // line name -> warnings
	DisconnectedComponents [][]StationID
}

// Network is the immutable, process-wide routing graph. Construct one with
// Build; there is no exported mutator.
type Network struct {
	Stations []Station
	Lines    []Line

	byCanonicalName map[string]StationID
	byCode          map[string]StationID
	ambiguousCodes  map[string]bool

	adjacency [][]Edge // indexed by StationID

	Report AssemblyReport
}

// Options tunes the transfer and unification constants, fixed at assembly
// time.
type Options struct {
	TransferPenaltySameStationMinutes   int
	TransferPenaltyCrossPlatformMinutes int
	WalkingInterchangeBaseMinutes       int
	WalkingSpeedKmh                     float64
	MaxWalkKm                           float64
	UnificationRadiusMeters             float64
}

// DefaultOptions returns the standard transfer and unification constants.
func DefaultOptions() Options {
	return Options{
		TransferPenaltySameStationMinutes:   4,
		TransferPenaltyCrossPlatformMinutes: 2,
		WalkingInterchangeBaseMinutes:       3,
		WalkingSpeedKmh:                     3.6,
		MaxWalkKm:                           1.0,
		UnificationRadiusMeters:             500,
	}
}

func canonicalName(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Build assembles a Network from a collection of parsed LineSpecs. Zero
// valid lines is the one fatal build-time condition (DATASET_EMPTY);
// everything else is collected into the returned AssemblyReport.
func Build(specs []*loader.LineSpec, opts Options) (*Network, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("DATASET_EMPTY: no valid line documents to assemble")
	}

	report := AssemblyReport{
		DanglingReferences: make(map[string][]string),
		LoaderWarnings:     make(map[string][]loader.Warning),
	}

	n := &Network{
		byCanonicalName: make(map[string]StationID),
		byCode:          make(map[string]StationID),
		ambiguousCodes:  make(map[string]bool),
	}

	// --- Step 1: station unification ---
	type rawEntry struct {
		spec    loader.StationSpec
		lineIdx int
	}
	groups := make(map[string][]rawEntry)
	var groupOrder []string
	for li, spec := range specs {
		for _, st := range spec.Stations {
			key := canonicalName(st.Name)
			if _, seen := groups[key]; !seen {
				groupOrder = append(groupOrder, key)
			}
			groups[key] = append(groups[key], rawEntry{spec: st, lineIdx: li})
		}
	}

	for _, key := range groupOrder {
		entries := groups[key]

		points := make([]geo.Point, 0, len(entries))
		for _, e := range entries {
			if p, ok := geo.NewPoint(e.spec.Lat, e.spec.Lng); ok {
				points = append(points, p)
			}
		}

		var lat, lng float64
		if len(points) > 0 {
			center := geo.Centroid(points)
			if geo.WithinMeters(points, opts.UnificationRadiusMeters) {
				lat, lng = center.Lat, center.Lng
			} else {
				spread := geo.MaxSpreadMeters(points, center)
				report.CoordinateAnomalies = append(report.CoordinateAnomalies, CoordinateAnomaly{
					CanonicalName: key,
					SpreadMeters:  spread,
					Entries:       len(entries),
				})
				// keep the entry belonging to the line with the most
				// memberships by station count as a (stable) proxy for
				// "most line-memberships"
				best := entries[0]
				for _, e := range entries[1:] {
					if len(specs[e.lineIdx].Stations) > len(specs[best.lineIdx].Stations) {
						best = e
					}
				}
				lat, lng = best.spec.Lat, best.spec.Lng
			}
		}

		id := StationID(len(n.Stations))
		var codes []string
		var tags []string
		var zone *int
		for _, e := range entries {
			if e.spec.Code != "" {
				codes = appendUnique(codes, e.spec.Code)
			}
			for _, tag := range e.spec.Interchange {
				tags = appendUnique(tags, tag)
			}
			if zone == nil {
				zone = e.spec.Zone
			}
		}

		n.Stations = append(n.Stations, Station{
			ID:              id,
			CanonicalName:   key,
			DisplayName:     strings.TrimSpace(entries[0].spec.Name),
			Codes:           codes,
			Lat:             lat,
			Lng:             lng,
			Zone:            zone,
			InterchangeTags: tags,
		})
		n.byCanonicalName[key] = id
	}

	// --- Step 2: code table ---
	for _, st := range n.Stations {
		for _, code := range st.Codes {
			if existing, ok := n.byCode[code]; ok && existing != st.ID {
				n.ambiguousCodes[code] = true
				continue
			}
			if n.ambiguousCodes[code] {
				continue
			}
			n.byCode[code] = st.ID
		}
	}
	collisions := make(map[string][]StationID)
	for _, st := range n.Stations {
		for _, code := range st.Codes {
			if n.ambiguousCodes[code] {
				collisions[code] = append(collisions[code], st.ID)
			}
		}
	}
	var collisionCodes []string
	for code := range collisions {
		collisionCodes = append(collisionCodes, code)
	}
	sort.Strings(collisionCodes)
	for _, code := range collisionCodes {
		report.CodeCollisions = append(report.CodeCollisions, CodeCollision{Code: code, Stations: collisions[code]})
	}

	n.adjacency = make([][]Edge, len(n.Stations))

	lineNameIndex := make(map[string]int, len(specs))
	for i, spec := range specs {
		lineNameIndex[strings.ToLower(strings.TrimSpace(spec.Name))] = i
	}

	// --- Step 3 & pre-indexing: build each Line, resolve patterns, index timetables ---
	n.Lines = make([]Line, len(specs))
	for li, spec := range specs {
		report.LoaderWarnings[spec.Name] = spec.Warnings

		resolvedPatterns, err := pattern.ResolveAll(spec)
		if err != nil {
			return nil, fmt.Errorf("resolving patterns for line %q: %w", spec.Name, err)
		}
		patternNames := make([]string, 0, len(resolvedPatterns))
		for pname := range resolvedPatterns {
			patternNames = append(patternNames, pname)
		}
		sort.Strings(patternNames)
		for _, pname := range patternNames {
			resolved := resolvedPatterns[pname]
			if len(resolved.Dangling) > 0 {
				report.DanglingReferences[spec.Name] = append(report.DanglingReferences[spec.Name], resolved.Dangling...)
			}
			if !resolved.All && len(resolved.Members) == 0 {
				report.PatternEmptyWarnings = append(report.PatternEmptyWarnings,
					fmt.Sprintf("line %q pattern %q calls at no station", spec.Name, pname))
			}
		}

		tt, err := timetable.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("indexing timetable for line %q: %w", spec.Name, err)
		}

		refs := make([]LineStationRef, len(spec.Stations))
		for i, st := range spec.Stations {
			sid := n.byCanonicalName[canonicalName(st.Name)]
			refs[i] = LineStationRef{Station: sid, LocalIndex: i}
			n.Stations[sid].LineMemberships = appendUniqueLine(n.Stations[sid].LineMemberships, LineID(li))
		}

		n.Lines[li] = Line{
			ID:        LineID(li),
			Spec:      spec,
			Stations:  refs,
			Patterns:  resolvedPatterns,
			Timetable: tt,
		}
	}

	// --- Step 3 continued: adjacency materialisation ---
	for li := range n.Lines {
		line := &n.Lines[li]
		for i := 0; i+1 < len(line.Stations); i++ {
			usedPatterns := patternsUsingEdge(line, i, i+1)
			if len(usedPatterns) == 0 {
				continue
			}
			weight := edgeWeight(line, opts, i, i+1)
			from, to := line.Stations[i].Station, line.Stations[i+1].Station

			n.addEdge(Edge{Kind: IntraLine, From: from, To: to, Line: LineID(li), Patterns: usedPatterns, WeightMinutes: weight})
			n.addEdge(Edge{Kind: IntraLine, From: to, To: from, Line: LineID(li), Patterns: usedPatterns, WeightMinutes: weight})
		}
	}

	// --- Step 4: interchange edges ---
	for _, st := range n.Stations {
		n.addEdge(Edge{Kind: InterchangeSelfLoop, From: st.ID, To: st.ID, Line: noLine, WeightMinutes: opts.TransferPenaltySameStationMinutes})
	}
	for _, st := range n.Stations {
		for _, tag := range st.InterchangeTags {
			li, ok := lineNameIndex[strings.ToLower(strings.TrimSpace(tag))]
			if !ok {
				continue
			}
			line := &n.Lines[li]
			if len(line.Stations) == 0 {
				continue
			}
			if hasMembership(n.Stations[st.ID], LineID(li)) {
				// already the same unified station; the self-loop covers
				// a same-station line change.
				continue
			}
			termini := []StationID{line.Stations[0].Station, line.Stations[len(line.Stations)-1].Station}
			for _, dest := range termini {
				if dest == st.ID {
					continue
				}
				a, _ := geo.NewPoint(st.Lat, st.Lng)
				b, _ := geo.NewPoint(n.Stations[dest].Lat, n.Stations[dest].Lng)
				km := geo.DistanceKm(a, b)
				if km > opts.MaxWalkKm {
					continue
				}
				walk := opts.WalkingInterchangeBaseMinutes + geo.MinutesAtSpeed(km, opts.WalkingSpeedKmh)
				cost := opts.TransferPenaltySameStationMinutes + walk
				n.addEdge(Edge{Kind: InterchangeWalk, From: st.ID, To: dest, Line: noLine, WeightMinutes: cost})
				n.addEdge(Edge{Kind: InterchangeWalk, From: dest, To: st.ID, Line: noLine, WeightMinutes: cost})
			}
		}
	}

	// --- disconnected-component detection, via a Dijkstra connectivity probe ---
	report.DisconnectedComponents = n.connectedComponents()

	n.Report = report
	return n, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueLine(list []LineID, v LineID) []LineID {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func hasMembership(st Station, id LineID) bool {
	for _, m := range st.LineMemberships {
		if m == id {
			return true
		}
	}
	return false
}

// patternsUsingEdge returns the names of every pattern on this line that
// calls at both the station at localIndex i and at localIndex j.
func patternsUsingEdge(line *Line, i, j int) []string {
	var names []string
	for name, resolved := range line.Patterns {
		if resolved.At(line.Spec, i) == pattern.Calls && resolved.At(line.Spec, j) == pattern.Calls {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// edgeWeight computes the scheduled-minutes weight between adjacent
// stations i, j (local indices) on a line: a declared typical journey
// time first, then the smallest scheduled-time difference, then distance.
func edgeWeight(line *Line, opts Options, i, j int) int {
	u, v := line.Spec.Stations[i], line.Spec.Stations[j]

	if w, ok := typicalJourneyTime(line.Spec, u, v); ok {
		return clamp(w, 1, 240)
	}
	if w, ok := nextMatchingTimeDiff(u, v); ok {
		return clamp(w, 1, 240)
	}

	pu, _ := geo.NewPoint(u.Lat, u.Lng)
	pv, _ := geo.NewPoint(v.Lat, v.Lng)
	km := geo.DistanceKm(pu, pv)
	minutes := int(km * 2.0)
	if minutes < 1 {
		minutes = 1
	}
	return clamp(minutes, 1, 240)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func typicalJourneyTime(spec *loader.LineSpec, u, v loader.StationSpec) (int, bool) {
	candidates := []string{
		fmt.Sprintf("%s-%s", u.Name, v.Name),
		fmt.Sprintf("%s-%s", v.Name, u.Name),
	}
	if u.Code != "" && v.Code != "" {
		candidates = append(candidates,
			fmt.Sprintf("%s-%s", u.Code, v.Code),
			fmt.Sprintf("%s-%s", v.Code, u.Code),
		)
	}
	for _, key := range candidates {
		if w, ok := spec.TypicalJourneyTimes[key]; ok {
			return w, true
		}
	}
	return 0, false
}

func nextMatchingTimeDiff(u, v loader.StationSpec) (int, bool) {
	best := -1
	for _, class := range loader.AllDayClasses {
		uTimes := u.Times.ByClass(class)
		vTimes := v.Times.ByClass(class)
		if len(uTimes) == 0 || len(vTimes) == 0 {
			continue
		}
		for _, ut := range uTimes {
			um, err := loader.ParseHHMM(ut)
			if err != nil {
				continue
			}
			for _, vt := range vTimes {
				vm, err := loader.ParseHHMM(vt)
				if err != nil {
					continue
				}
				diff := vm - um
				if diff > 0 && (best == -1 || diff < best) {
					best = diff
				}
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (n *Network) addEdge(e Edge) {
	n.adjacency[e.From] = append(n.adjacency[e.From], e)
}

// Adjacency returns the outgoing edges from a station. The slice is owned
// by the Network and must not be mutated.
func (n *Network) Adjacency(id StationID) []Edge {
	if int(id) < 0 || int(id) >= len(n.adjacency) {
		return nil
	}
	return n.adjacency[id]
}

// StationByName resolves a canonical station name to its id.
func (n *Network) StationByName(name string) (StationID, bool) {
	id, ok := n.byCanonicalName[canonicalName(name)]
	return id, ok
}

// StationByCode resolves a station code. Returns ok=false if the code is
// unknown OR ambiguous: ambiguous codes must be looked up by name instead.
func (n *Network) StationByCode(code string) (StationID, bool) {
	if n.ambiguousCodes[code] {
		return 0, false
	}
	id, ok := n.byCode[code]
	return id, ok
}

// IsAmbiguousCode reports whether a code maps to more than one station.
func (n *Network) IsAmbiguousCode(code string) bool {
	return n.ambiguousCodes[code]
}

// ResolveStationRef resolves a station reference: a code is tried first,
// then a canonical name.
func (n *Network) ResolveStationRef(ref string) (StationID, bool) {
	if id, ok := n.StationByCode(ref); ok {
		return id, true
	}
	return n.StationByName(ref)
}

// connectedComponents groups stations into weakly-connected components
// using RyanCarrier/dijkstra as the reachability probe: a component is the
// set of stations reachable from one another through the assembled graph,
// surfaced in the assembly report when there is more than one.
func (n *Network) connectedComponents() [][]StationID {
	if len(n.Stations) == 0 {
		return nil
	}

	graph := dijkstra.NewGraph()
	for i := range n.Stations {
		graph.AddEmptyVertex(i)
	}
	for from, edges := range n.adjacency {
		for _, e := range edges {
			if int(e.To) == from {
				continue // self-loops carry no reachability information
			}
			weight := uint64(e.WeightMinutes)
			if weight < 1 {
				weight = 1
			}
			_ = graph.AddArc(from, int(e.To), weight)
		}
	}

	visited := make([]bool, len(n.Stations))
	var components [][]StationID

	for start := 0; start < len(n.Stations); start++ {
		if visited[start] {
			continue
		}
		component := []StationID{StationID(start)}
		visited[start] = true
		for other := 0; other < len(n.Stations); other++ {
			if other == start || visited[other] {
				continue
			}
			if _, err := graph.Shortest(start, other); err == nil {
				visited[other] = true
				component = append(component, StationID(other))
			}
		}
		components = append(components, component)
	}

	if len(components) == 1 {
		return nil // single connected graph: nothing to report
	}
	return components
}
