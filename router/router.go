// Package router implements a time-dependent, transfer-penalised
// k-shortest-path search over a built Network.
// The search is a label-setting generalisation of
// Dijkstra: labels are kept as a Pareto frontier over (time, transfers)
// per station and line commitment rather than as a single best label;
// total travel only breaks ties when the results are ranked.
package router

import (
	"container/heap"
	"context"
	"sort"

	"tgrcode.com/railplan/loader"
	"tgrcode.com/railplan/network"
)

// Direction selects whether Time is a lower bound on departure from
// Origin or an upper bound on arrival at Destination.
type Direction int

const (
	DepartAfter Direction = iota
	ArriveBefore
)

// Options tunes the search. The zero value is not valid; use
// DefaultOptions.
type Options struct {
	MaxTransfers   int
	MaxResults     int
	HorizonMinutes int
}

// DefaultOptions returns the default search bounds.
func DefaultOptions() Options {
	return Options{
		MaxTransfers:   4,
		MaxResults:     5,
		HorizonMinutes: 24 * 60,
	}
}

// Query is one routing request. Time is in minutes since the start of the
// service day being planned against; it may exceed 1440 to express
// "tomorrow", matching the Timetable Index's own night-rollover
// convention.
type Query struct {
	Origin, Destination network.StationID
	Direction           Direction
	Time                int
	DayClasses          []loader.DayClass // nil/empty: any class
}

// Label is one routing state considered by the search. For depart-after
// queries it is a real arrival time at Station; for arrive-before queries
// it is the latest permissible time to be at Station (the search runs
// backwards from Destination towards Origin).
type Label struct {
	Station   network.StationID
	Time      int
	Line      network.LineID // noLine if not currently committed to a line
	Transfers int

	Prev       *Label
	ArriveEdge *network.Edge // edge that produced this label from Prev; nil at the search root
	Pattern    string        // pattern ridden over ArriveEdge, if it was an IntraLine edge
}

const noLine = network.LineID(-1)

// Result is the outcome of a Route call.
type Result struct {
	Labels  []*Label // goal-station labels, best-first per the tie-break order
	Reason  string   // "" or "NO_REACHABLE_PATH"
	Partial bool     // true if the query was cancelled or timed out before exhausting the frontier
}

// search holds the per-query state shared by Route and Stream.
type search struct {
	n         *network.Network
	q         Query
	opts      Options
	neighbors func(network.StationID) []network.Edge
	start     network.StationID
	goal      network.StationID
}

func newSearch(n *network.Network, q Query, opts Options) *search {
	s := &search{n: n, q: q, opts: opts}
	if q.Direction == DepartAfter {
		s.start, s.goal = q.Origin, q.Destination
		s.neighbors = n.Adjacency
	} else {
		s.start, s.goal = q.Destination, q.Origin
		rev := buildReverseIndex(n)
		s.neighbors = func(id network.StationID) []network.Edge { return rev[id] }
	}
	return s
}

func buildReverseIndex(n *network.Network) map[network.StationID][]network.Edge {
	rev := make(map[network.StationID][]network.Edge)
	for i := range n.Stations {
		sid := network.StationID(i)
		for _, e := range n.Adjacency(sid) {
			rev[e.To] = append(rev[e.To], e)
		}
	}
	return rev
}

// betterTime reports whether a is a more advanced (earlier-discovered)
// time than b for this search's direction: smaller is better when moving
// forward in time, larger is better when moving backward.
func (s *search) betterTime(a, b int) bool {
	if s.q.Direction == DepartAfter {
		return a < b
	}
	return a > b
}

func (s *search) outOfHorizon(t int) bool {
	if s.q.Direction == DepartAfter {
		return t > s.q.Time+s.opts.HorizonMinutes
	}
	return t < s.q.Time-s.opts.HorizonMinutes
}

// Route runs the labelling search and returns up to opts.MaxResults
// candidate journeys, ranked by the tie-break order:
// earlier arrival, fewer transfers, shorter total travel, lexicographically
// smaller line-sequence.
func Route(ctx context.Context, n *network.Network, q Query, opts Options) Result {
	if q.Origin == q.Destination {
		return Result{Labels: []*Label{{Station: q.Origin, Time: q.Time, Line: noLine}}}
	}

	s := newSearch(n, q, opts)
	frontier := make(map[frontierKey][]*Label)
	pq := &labelQueue{s: s}
	heap.Init(pq)

	root := &Label{Station: s.start, Time: q.Time, Line: noLine}
	frontier[keyOf(root)] = []*Label{root}
	heap.Push(pq, root)

	var goalLabels []*Label
	partial := false

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			partial = true
			break
		}

		cur := heap.Pop(pq).(*Label)
		if !inFrontier(frontier, cur) {
			continue
		}
		if s.outOfHorizon(cur.Time) {
			continue
		}
		if cur.Station == s.goal {
			goalLabels = append(goalLabels, cur)
			continue
		}

		for _, e := range s.neighbors(cur.Station) {
			next, ok := s.expand(cur, e)
			if !ok {
				continue
			}
			if next.Transfers > opts.MaxTransfers || s.outOfHorizon(next.Time) {
				continue
			}
			if tryAdmit(s, frontier, next) {
				heap.Push(pq, next)
			}
		}
	}

	sort.Slice(goalLabels, func(i, j int) bool { return less(s, goalLabels[i], goalLabels[j]) })
	goalLabels = dedupeNonDominated(s, goalLabels)
	if len(goalLabels) > opts.MaxResults {
		goalLabels = goalLabels[:opts.MaxResults]
	}

	if len(goalLabels) == 0 {
		return Result{Reason: "NO_REACHABLE_PATH", Partial: partial}
	}
	return Result{Labels: goalLabels, Partial: partial}
}

// Stream runs the same search but yields goal labels to out as soon as
// they are found, in non-decreasing arrival-time order for depart-after
// queries, closing out when the search is exhausted, MaxResults is
// reached, or ctx is cancelled.
func Stream(ctx context.Context, n *network.Network, q Query, opts Options, out chan<- *Label) {
	defer close(out)

	if q.Origin == q.Destination {
		select {
		case out <- &Label{Station: q.Origin, Time: q.Time, Line: noLine}:
		case <-ctx.Done():
		}
		return
	}

	s := newSearch(n, q, opts)
	frontier := make(map[frontierKey][]*Label)
	pq := &labelQueue{s: s}
	heap.Init(pq)

	root := &Label{Station: s.start, Time: q.Time, Line: noLine}
	frontier[keyOf(root)] = []*Label{root}
	heap.Push(pq, root)

	emitted := 0
	for pq.Len() > 0 {
		if ctx.Err() != nil || emitted >= opts.MaxResults {
			return
		}

		cur := heap.Pop(pq).(*Label)
		if !inFrontier(frontier, cur) {
			continue
		}
		if s.outOfHorizon(cur.Time) {
			continue
		}
		if cur.Station == s.goal {
			select {
			case out <- cur:
				emitted++
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, e := range s.neighbors(cur.Station) {
			next, ok := s.expand(cur, e)
			if !ok {
				continue
			}
			if next.Transfers > opts.MaxTransfers || s.outOfHorizon(next.Time) {
				continue
			}
			if tryAdmit(s, frontier, next) {
				heap.Push(pq, next)
			}
		}
	}
}

// expand produces the label reached by taking edge e away from cur. e is
// always oriented so that, for depart-after, e.From == cur.Station (cur is
// the boarding end); for arrive-before, e.To == cur.Station (cur is the
// alighting end, since s.neighbors returns the reverse index in that
// mode) and the produced label sits at e.From.
func (s *search) expand(cur *Label, e network.Edge) (*Label, bool) {
	if e.Kind != network.IntraLine {
		return s.expandInterchange(cur, e), true
	}
	return s.expandIntraLine(cur, e)
}

func (s *search) expandIntraLine(cur *Label, e network.Edge) (*Label, bool) {
	if cur.Line != noLine && cur.Line != e.Line {
		return nil, false // riding a different line; must transfer first
	}

	line := s.n.Lines[e.Line]
	boardingStation := e.From
	localIndex, found := lineLocalIndex(&line, boardingStation)
	if !found {
		return nil, false
	}

	if s.q.Direction == DepartAfter {
		dep, ok := line.Timetable.NextDeparture(localIndex, cur.Time, s.q.DayClasses...)
		if !ok {
			return nil, false
		}
		return &Label{
			Station: e.To, Time: dep + e.WeightMinutes, Line: e.Line, Transfers: cur.Transfers,
			Prev: cur, ArriveEdge: &e, Pattern: choosePattern(e.Patterns),
		}, true
	}

	dep, ok := line.Timetable.PrevDeparture(localIndex, cur.Time-e.WeightMinutes, s.q.DayClasses...)
	if !ok {
		return nil, false
	}
	return &Label{
		Station: e.From, Time: dep, Line: e.Line, Transfers: cur.Transfers,
		Prev: cur, ArriveEdge: &e, Pattern: choosePattern(e.Patterns),
	}, true
}

func (s *search) expandInterchange(cur *Label, e network.Edge) *Label {
	transfers := cur.Transfers
	if cur.Line != noLine {
		transfers++
	}

	if s.q.Direction == DepartAfter {
		return &Label{
			Station: e.To, Time: cur.Time + e.WeightMinutes, Line: noLine, Transfers: transfers,
			Prev: cur, ArriveEdge: &e,
		}
	}
	return &Label{
		Station: e.From, Time: cur.Time - e.WeightMinutes, Line: noLine, Transfers: transfers,
		Prev: cur, ArriveEdge: &e,
	}
}

func lineLocalIndex(line *network.Line, station network.StationID) (int, bool) {
	for _, ref := range line.Stations {
		if ref.Station == station {
			return ref.LocalIndex, true
		}
	}
	return 0, false
}

func choosePattern(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	best := patterns[0]
	for _, p := range patterns[1:] {
		if p < best {
			best = p
		}
	}
	return best
}

// frontierKey buckets the Pareto frontier. Labels are only comparable
// when they sit at the same station with the same line commitment: a
// label already riding a line must not dominate the uncommitted label a
// transfer produces, or no line change would ever survive admission.
type frontierKey struct {
	station network.StationID
	line    network.LineID
}

func keyOf(lbl *Label) frontierKey {
	return frontierKey{station: lbl.Station, line: lbl.Line}
}

// inFrontier reports whether lbl is still present in its bucket's current
// Pareto frontier (it may have been evicted by a dominating label pushed
// after lbl was queued).
func inFrontier(frontier map[frontierKey][]*Label, lbl *Label) bool {
	for _, f := range frontier[keyOf(lbl)] {
		if f == lbl {
			return true
		}
	}
	return false
}

// dominates reports whether a dominates b: a's time is no worse and its
// transfer count is no worse.
func dominates(s *search, a, b *Label) bool {
	timeOK := a.Time == b.Time || s.betterTime(a.Time, b.Time)
	return timeOK && a.Transfers <= b.Transfers
}

// tryAdmit inserts next into its bucket's Pareto frontier if no existing
// label dominates it, evicting any existing labels next dominates.
func tryAdmit(s *search, frontier map[frontierKey][]*Label, next *Label) bool {
	key := keyOf(next)
	existing := frontier[key]
	for _, f := range existing {
		if dominates(s, f, next) {
			return false
		}
	}
	kept := existing[:0]
	for _, f := range existing {
		if !dominates(s, next, f) {
			kept = append(kept, f)
		}
	}
	frontier[key] = append(kept, next)
	return true
}

func dedupeNonDominated(s *search, sorted []*Label) []*Label {
	var kept []*Label
	for _, l := range sorted {
		dominated := false
		for _, k := range kept {
			if dominates(s, k, l) {
				dominated = true
				break
			}
		}
		if !dominated {
			kept = append(kept, l)
		}
	}
	return kept
}

// less implements the tie-break order: earlier arrival, fewer transfers,
// shorter total travel, lexicographically smaller line-sequence. For
// arrive-before queries the labels sit at Origin and "earlier arrival"
// has no direct meaning; the analogous preference is the latest safe
// departure from Origin.
func less(s *search, a, b *Label) bool {
	if a.Time != b.Time {
		return s.betterTime(a.Time, b.Time)
	}
	if a.Transfers != b.Transfers {
		return a.Transfers < b.Transfers
	}
	at, bt := totalTravel(a), totalTravel(b)
	if at != bt {
		return at < bt
	}
	return lineSequence(a) < lineSequence(b)
}

func totalTravel(lbl *Label) int {
	root := lbl
	for root.Prev != nil {
		root = root.Prev
	}
	d := lbl.Time - root.Time
	if d < 0 {
		return -d
	}
	return d
}

func lineSequence(lbl *Label) string {
	var ids []network.LineID
	for l := lbl; l != nil; l = l.Prev {
		if l.ArriveEdge != nil && l.ArriveEdge.Kind == network.IntraLine {
			ids = append([]network.LineID{l.Line}, ids...)
		}
	}
	out := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			out = append(out, '>')
		}
		out = appendInt(out, int(id))
	}
	return string(out)
}

func appendInt(dst []byte, v int) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	start := len(dst)
	for v > 0 {
		dst = append(dst, byte('0'+v%10))
		v /= 10
	}
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}

// Chain walks a goal label back to the search root and returns the full
// path in travel order (origin first, destination last) regardless of
// search direction, for the Journey Formatter to consume. Every returned
// label carries the edge that reached it from the label before it in the
// slice, and its Time is a real arrival (or boarding-completion) time at
// its station.
func Chain(goalLabel *Label, direction Direction) []*Label {
	var chain []*Label
	for l := goalLabel; l != nil; l = l.Prev {
		chain = append(chain, l)
	}
	if direction == DepartAfter {
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		return chain
	}

	// ArriveBefore labels walk Prev from Origin towards the Destination
	// root, so the Prev order is already origin-first — but each label's
	// ArriveEdge points at the edge *towards* the destination, and its Time
	// is the departure time from its station, not an arrival. Synthesize
	// forward-oriented copies so the formatter sees one representation.
	out := make([]*Label, len(chain))
	out[0] = &Label{Station: chain[0].Station, Time: chain[0].Time, Line: noLine}
	for i := 1; i < len(chain); i++ {
		src := chain[i-1] // label holding the edge from station i-1 to station i
		e := src.ArriveEdge
		lbl := &Label{
			Station:    chain[i].Station,
			Time:       src.Time + e.WeightMinutes,
			Line:       noLine,
			Transfers:  chain[i].Transfers,
			Prev:       out[i-1],
			ArriveEdge: e,
			Pattern:    src.Pattern,
		}
		if e.Kind == network.IntraLine {
			lbl.Line = e.Line
		}
		out[i] = lbl
	}
	return out
}

// labelQueue is a min-heap of labels ordered for label-setting expansion
// in the direction s tracks: smallest advancing time first, ties broken
// by fewer transfers.
type labelQueue struct {
	s      *search
	labels []*Label
}

func (q *labelQueue) Len() int { return len(q.labels) }
func (q *labelQueue) Less(i, j int) bool {
	a, b := q.labels[i], q.labels[j]
	if a.Time != b.Time {
		return q.s.betterTime(a.Time, b.Time)
	}
	return a.Transfers < b.Transfers
}
func (q *labelQueue) Swap(i, j int) { q.labels[i], q.labels[j] = q.labels[j], q.labels[i] }
func (q *labelQueue) Push(x any)    { q.labels = append(q.labels, x.(*Label)) }
func (q *labelQueue) Pop() any {
	old := q.labels
	n := len(old)
	item := old[n-1]
	q.labels = old[:n-1]
	return item
}
