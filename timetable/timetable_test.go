package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgrcode.com/railplan/loader"
)

func lineWithTimes(times ...loader.StationTimes) *loader.LineSpec {
	stations := make([]loader.StationSpec, len(times))
	for i, t := range times {
		stations[i] = loader.StationSpec{Name: "S", Lat: 51, Lng: 0, Times: t}
	}
	return &loader.LineSpec{Name: "Test Line", Operator: "Test Op", Stations: stations}
}

func TestBuildSortsAcrossClasses(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Morning:   []string{"06:00", "08:00"},
		Afternoon: []string{"13:30"},
		Evening:   []string{"19:45"},
	}))
	require.NoError(t, err)

	sched := idx.ByStation[0]
	require.Len(t, sched.Entries, 4)
	assert.True(t, sched.IsMonotone())
	assert.Equal(t, 360, sched.Entries[0].Minutes)
	assert.Equal(t, loader.Evening, sched.Entries[3].Class)
}

func TestNightRollover(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Night: []string{"23:10", "00:15", "02:43"},
	}))
	require.NoError(t, err)

	sched := idx.ByStation[0]
	require.Len(t, sched.Entries, 3)
	assert.Equal(t, 23*60+10, sched.Entries[0].Minutes)
	assert.Equal(t, 24*60+15, sched.Entries[1].Minutes)
	assert.Equal(t, 26*60+43, sched.Entries[2].Minutes)
	assert.True(t, sched.IsMonotone())
}

func TestNightRollsAgainstEarlierClasses(t *testing.T) {
	// A lone post-midnight night entry has no internal drop to detect;
	// it rolls because it is below the evening class's latest time.
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Evening: []string{"23:50"},
		Night:   []string{"00:15"},
	}))
	require.NoError(t, err)

	sched := idx.ByStation[0]
	require.Len(t, sched.Entries, 2)
	assert.Equal(t, 23*60+50, sched.Entries[0].Minutes)
	assert.Equal(t, 24*60+15, sched.Entries[1].Minutes)
	assert.True(t, sched.IsMonotone())

	// Night entries still ahead of the earlier classes stay same-day.
	idx, err = Build(lineWithTimes(loader.StationTimes{
		Evening: []string{"22:50"},
		Night:   []string{"23:10", "00:15"},
	}))
	require.NoError(t, err)

	sched = idx.ByStation[0]
	require.Len(t, sched.Entries, 3)
	assert.Equal(t, 23*60+10, sched.Entries[1].Minutes)
	assert.Equal(t, 24*60+15, sched.Entries[2].Minutes)
	assert.True(t, sched.IsMonotone())
}

func TestNextDeparture(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Morning:   []string{"06:00", "08:00"},
		Afternoon: []string{"13:30"},
	}))
	require.NoError(t, err)

	dep, ok := idx.NextDeparture(0, 0)
	require.True(t, ok)
	assert.Equal(t, 360, dep)

	dep, ok = idx.NextDeparture(0, 361)
	require.True(t, ok)
	assert.Equal(t, 480, dep)

	// Exact match is a valid departure.
	dep, ok = idx.NextDeparture(0, 480)
	require.True(t, ok)
	assert.Equal(t, 480, dep)

	// Day-class filter skips the morning runs entirely.
	dep, ok = idx.NextDeparture(0, 0, loader.Afternoon)
	require.True(t, ok)
	assert.Equal(t, 13*60+30, dep)

	_, ok = idx.NextDeparture(0, 14*60)
	assert.False(t, ok)

	_, ok = idx.NextDeparture(5, 0)
	assert.False(t, ok, "out-of-range station index")
}

func TestPrevDeparture(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Morning: []string{"06:00", "08:00"},
	}))
	require.NoError(t, err)

	dep, ok := idx.PrevDeparture(0, 7*60)
	require.True(t, ok)
	assert.Equal(t, 360, dep)

	dep, ok = idx.PrevDeparture(0, 480)
	require.True(t, ok)
	assert.Equal(t, 480, dep)

	_, ok = idx.PrevDeparture(0, 359)
	assert.False(t, ok)

	_, ok = idx.PrevDeparture(0, 500, loader.Night)
	assert.False(t, ok)
}

func TestRange(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{
		Morning:   []string{"06:00", "08:00", "11:00"},
		Afternoon: []string{"13:30"},
	}))
	require.NoError(t, err)

	assert.Equal(t, []int{480, 660}, idx.Range(0, 361, 720))
	assert.Equal(t, []int{360, 480, 660, 810}, idx.Range(0, 0, 24*60))
	assert.Empty(t, idx.Range(0, 361, 420))
	assert.Equal(t, []int{810}, idx.Range(0, 0, 24*60, loader.Afternoon))
}

func TestEmptySchedule(t *testing.T) {
	idx, err := Build(lineWithTimes(loader.StationTimes{}))
	require.NoError(t, err)

	_, ok := idx.NextDeparture(0, 0)
	assert.False(t, ok)
	assert.True(t, idx.ByStation[0].IsMonotone())
}
