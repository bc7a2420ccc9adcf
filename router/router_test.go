package router_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgrcode.com/railplan/journey"
	"tgrcode.com/railplan/loader"
	"tgrcode.com/railplan/network"
	"tgrcode.com/railplan/router"
)

func buildNetwork(t *testing.T) *network.Network {
	t.Helper()
	dir := filepath.Join("..", "testdata", "uk-rail")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var specs []*loader.LineSpec
	for _, entry := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		spec, err := loader.Load(raw)
		require.NoError(t, err)
		specs = append(specs, spec)
	}
	n, err := network.Build(specs, network.DefaultOptions())
	require.NoError(t, err)
	return n
}

func station(t *testing.T, n *network.Network, name string) network.StationID {
	t.Helper()
	id, ok := n.StationByName(name)
	require.True(t, ok, "station %q", name)
	return id
}

func minutes(h, m int) int { return h*60 + m }

func TestAllStopsRun(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Harrow & Wealdstone"),
		Destination: station(t, n, "Elephant & Castle"),
		Direction:   router.DepartAfter,
		Time:        minutes(6, 0),
	}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	require.Empty(t, result.Reason)
	require.NotEmpty(t, result.Labels)

	best := result.Labels[0]
	assert.Equal(t, minutes(6, 48), best.Time)
	assert.Equal(t, 0, best.Transfers)

	j := journey.Format(best, q.Direction)
	require.Len(t, j.Legs, 1)
	assert.Empty(t, j.Transfers)
	assert.Equal(t, "stopping", j.Legs[0].Pattern)
	assert.Len(t, j.Legs[0].CallingPoints, 25)
	assert.Equal(t, minutes(6, 0), j.DepartureTime)
	assert.Equal(t, 48, j.TotalMinutes)
}

func TestCrossLineTransfer(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Paddington"),
		Destination: station(t, n, "Brixton"),
		Direction:   router.DepartAfter,
		Time:        minutes(8, 0),
	}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	require.NotEmpty(t, result.Labels)

	best := result.Labels[0]
	assert.Equal(t, minutes(9, 0), best.Time)
	assert.Equal(t, 1, best.Transfers)

	j := journey.Format(best, q.Direction)
	require.Len(t, j.Legs, 2)
	require.Len(t, j.Transfers, 1)
	assert.Equal(t, station(t, n, "Oxford Circus"), j.Transfers[0].AtStation)
	assert.GreaterOrEqual(t, j.Transfers[0].WaitMinutes, 4)
}

func TestPatternSensitiveSkip(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Willesden Junction"),
		Destination: station(t, n, "Elephant & Castle"),
		Direction:   router.DepartAfter,
		Time:        minutes(6, 0),
	}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	require.NotEmpty(t, result.Labels)

	j := journey.Format(result.Labels[0], q.Direction)
	require.Len(t, j.Legs, 1)
	assert.Contains(t, []string{"stopping", "semi_fast"}, j.Legs[0].Pattern)
	assert.NotEqual(t, "fast", j.Legs[0].Pattern, "fast does not call at Willesden Junction")
}

func TestOriginEqualsDestination(t *testing.T) {
	n := buildNetwork(t)
	origin := station(t, n, "Paddington")
	q := router.Query{Origin: origin, Destination: origin, Direction: router.DepartAfter, Time: minutes(9, 0)}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	require.Len(t, result.Labels, 1)

	j := journey.Format(result.Labels[0], q.Direction)
	assert.Empty(t, j.Legs)
	assert.Empty(t, j.Transfers)
	assert.Equal(t, 0, j.TotalMinutes)
}

func TestNoReachablePath(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Pwllheli"),
		Destination: station(t, n, "Shoeburyness"),
		Direction:   router.DepartAfter,
		Time:        minutes(7, 0),
	}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	assert.Empty(t, result.Labels)
	assert.Equal(t, "NO_REACHABLE_PATH", result.Reason)
}

func TestArriveBefore(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Paddington"),
		Destination: station(t, n, "Brixton"),
		Direction:   router.ArriveBefore,
		Time:        minutes(9, 0),
	}

	result := router.Route(context.Background(), n, q, router.DefaultOptions())
	require.NotEmpty(t, result.Labels)

	j := journey.Format(result.Labels[0], q.Direction)
	require.Len(t, j.Legs, 2)
	assert.Equal(t, minutes(8, 26), j.DepartureTime, "latest departure that still makes the deadline")
	assert.Equal(t, minutes(9, 0), j.ArrivalTime)
	require.Len(t, j.Transfers, 1)
	assert.Equal(t, station(t, n, "Oxford Circus"), j.Transfers[0].AtStation)
}

func TestCancellation(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Harrow & Wealdstone"),
		Destination: station(t, n, "Brixton"),
		Direction:   router.DepartAfter,
		Time:        minutes(6, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := router.Route(ctx, n, q, router.DefaultOptions())
	assert.True(t, result.Partial)

	// The network is untouched and immediately usable by the next query.
	result = router.Route(context.Background(), n, q, router.DefaultOptions())
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.Labels)
}

func TestStream(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Paddington"),
		Destination: station(t, n, "Brixton"),
		Direction:   router.DepartAfter,
		Time:        minutes(8, 0),
	}

	out := make(chan *router.Label)
	go router.Stream(context.Background(), n, q, router.DefaultOptions(), out)

	var labels []*router.Label
	for l := range out {
		labels = append(labels, l)
	}
	require.NotEmpty(t, labels)
	for i := 1; i < len(labels); i++ {
		assert.LessOrEqual(t, labels[i-1].Time, labels[i].Time, "streamed in non-decreasing arrival order")
	}
	assert.Equal(t, minutes(9, 0), labels[0].Time)
}

func TestStreamCancellation(t *testing.T) {
	n := buildNetwork(t)
	q := router.Query{
		Origin:      station(t, n, "Harrow & Wealdstone"),
		Destination: station(t, n, "Elephant & Castle"),
		Direction:   router.DepartAfter,
		Time:        minutes(6, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan *router.Label)
	go router.Stream(ctx, n, q, router.DefaultOptions(), out)

	for range out {
	}
	// Channel closed without deadlock; nothing more to assert.
}

// bruteForce is an independent reference implementation: exhaustive DFS
// over the adjacency with the same expansion semantics as the router,
// returning the earliest reachable arrival at dest within the transfer
// bound. It never revisits a station and allows at most one transfer move
// in a row, which only narrows the search relative to the router.
func bruteForce(n *network.Network, origin, dest network.StationID, depart, maxTransfers int) (int, bool) {
	const horizon = 24 * 60
	best := -1
	visited := make(map[network.StationID]bool)
	noLine := network.LineID(-1)

	var dfs func(st network.StationID, now int, line network.LineID, transfers int, justTransferred bool)
	dfs = func(st network.StationID, now int, line network.LineID, transfers int, justTransferred bool) {
		if now > depart+horizon {
			return
		}
		if st == dest {
			if best == -1 || now < best {
				best = now
			}
			return
		}
		for _, e := range n.Adjacency(st) {
			if e.Kind == network.IntraLine {
				if line != noLine && line != e.Line {
					continue
				}
				if visited[e.To] {
					continue
				}
				local := -1
				for _, ref := range n.Lines[e.Line].Stations {
					if ref.Station == st {
						local = ref.LocalIndex
						break
					}
				}
				if local == -1 {
					continue
				}
				dep, ok := n.Lines[e.Line].Timetable.NextDeparture(local, now)
				if !ok {
					continue
				}
				visited[e.To] = true
				dfs(e.To, dep+e.WeightMinutes, e.Line, transfers, false)
				visited[e.To] = false
				continue
			}
			if justTransferred {
				continue
			}
			next := transfers
			if line != noLine {
				next++
			}
			if next > maxTransfers {
				continue
			}
			if e.From == e.To {
				dfs(st, now+e.WeightMinutes, noLine, next, true)
			} else if !visited[e.To] {
				visited[e.To] = true
				dfs(e.To, now+e.WeightMinutes, noLine, next, true)
				visited[e.To] = false
			}
		}
	}

	visited[origin] = true
	dfs(origin, depart, noLine, 0, false)
	return best, best != -1
}

func TestRouterMatchesBruteForce(t *testing.T) {
	n := buildNetwork(t)
	opts := router.DefaultOptions()

	origins := []string{"Harrow & Wealdstone", "Willesden Junction", "Paddington", "Oxford Circus", "Waterloo"}
	destinations := []string{"Elephant & Castle", "Brixton", "Victoria", "London Waterloo", "Weymouth"}
	departures := []int{minutes(6, 0), minutes(8, 0)}

	for _, from := range origins {
		for _, to := range destinations {
			for _, depart := range departures {
				origin := station(t, n, from)
				dest := station(t, n, to)
				if origin == dest {
					continue
				}

				q := router.Query{Origin: origin, Destination: dest, Direction: router.DepartAfter, Time: depart}
				result := router.Route(context.Background(), n, q, opts)

				want, feasible := bruteForce(n, origin, dest, depart, opts.MaxTransfers)
				if !feasible {
					continue
				}
				require.NotEmptyf(t, result.Labels, "%s -> %s at %d: brute force found %d", from, to, depart, want)
				assert.LessOrEqualf(t, result.Labels[0].Time, want,
					"%s -> %s at %d: router must not be beaten by brute force", from, to, depart)
			}
		}
	}
}
