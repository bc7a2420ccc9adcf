// Package journey turns a raw label chain produced by the router into a
// stable Journey value with calling points, a transfer list, and a total
// duration.
package journey

import (
	"tgrcode.com/railplan/network"
	"tgrcode.com/railplan/router"
)

// Leg is a contiguous segment of a journey on one line without a
// transfer.
type Leg struct {
	Line                              network.LineID
	Pattern                           string
	BoardingStation, AlightingStation network.StationID
	BoardingTime, AlightingTime       int
	CallingPoints                     []network.StationID
}

// Transfer is a change of line at a station, or between two nearby
// stations connected by a walking interchange edge.
type Transfer struct {
	AtStation      network.StationID
	ArriveFromLine network.LineID
	DepartOnLine   network.LineID
	WaitMinutes    int
}

// Journey is one complete candidate itinerary.
type Journey struct {
	Legs          []Leg
	Transfers     []Transfer
	DepartureTime int
	ArrivalTime   int
	TotalMinutes  int
}

// Format converts one goal label returned by router.Route into a Journey.
// direction must be the same Direction the query was run with, since the
// label chain is oriented accordingly by router.Chain.
func Format(goalLabel *router.Label, direction router.Direction) *Journey {
	chain := router.Chain(goalLabel, direction)
	return fromChain(chain)
}

func fromChain(chain []*router.Label) *Journey {
	if len(chain) == 0 {
		return &Journey{}
	}
	if len(chain) == 1 {
		t := chain[0].Time
		return &Journey{DepartureTime: t, ArrivalTime: t}
	}

	var legs []Leg
	var cur *Leg
	var curPatterns []string // patterns serving every edge of the leg so far
	closeLeg := func() {
		if cur == nil {
			return
		}
		// The leg's pattern must call at every station the leg passes
		// through, so it is drawn from the intersection of the pattern
		// sets along the leg's edges; legs are split whenever that
		// intersection would go empty, so it never is here.
		if p := firstAlphabetical(curPatterns); p != "" {
			cur.Pattern = p
		}
		legs = append(legs, *cur)
		cur = nil
	}
	for i := 1; i < len(chain); i++ {
		l := chain[i]
		prev := chain[i-1]
		e := l.ArriveEdge
		if e.Kind != network.IntraLine {
			closeLeg()
			continue
		}
		if cur != nil && cur.Line == l.Line {
			if shared := intersect(curPatterns, e.Patterns); len(shared) > 0 {
				curPatterns = shared
				cur.AlightingStation = l.Station
				cur.AlightingTime = l.Time
				cur.CallingPoints = append(cur.CallingPoints, l.Station)
				continue
			}
			// No single pattern serves the run extended by this edge:
			// the ride needs a change of train, so the leg ends here and
			// a fresh one boards at the same station.
		}
		closeLeg()
		cur = &Leg{
			Line:             l.Line,
			Pattern:          l.Pattern,
			BoardingStation:  prev.Station,
			BoardingTime:     l.Time - e.WeightMinutes,
			AlightingStation: l.Station,
			AlightingTime:    l.Time,
			CallingPoints:    []network.StationID{prev.Station, l.Station},
		}
		curPatterns = e.Patterns
	}
	closeLeg()

	var transfers []Transfer
	for i := 1; i < len(legs); i++ {
		prevLeg, nextLeg := legs[i-1], legs[i]
		transfers = append(transfers, Transfer{
			AtStation:      prevLeg.AlightingStation,
			ArriveFromLine: prevLeg.Line,
			DepartOnLine:   nextLeg.Line,
			WaitMinutes:    nextLeg.BoardingTime - prevLeg.AlightingTime,
		})
	}

	j := &Journey{Legs: legs, Transfers: transfers}
	if len(legs) > 0 {
		j.DepartureTime = legs[0].BoardingTime
		j.ArrivalTime = legs[len(legs)-1].AlightingTime
		j.TotalMinutes = j.ArrivalTime - j.DepartureTime
	}
	return j
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		for _, w := range b {
			if v == w {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func firstAlphabetical(values []string) string {
	best := ""
	for _, v := range values {
		if best == "" || v < best {
			best = v
		}
	}
	return best
}

// FormatAll converts every goal label in labels, preserving order.
func FormatAll(labels []*router.Label, direction router.Direction) []*Journey {
	out := make([]*Journey, len(labels))
	for i, l := range labels {
		out[i] = Format(l, direction)
	}
	return out
}
