// Package timetable implements the Timetable Index: for each (line,
// station) pair it stores the scheduled calling times as a flat ascending
// sequence of minutes-past-midnight, labelled by day-class, with
// post-midnight "night" entries rolled onto the next day.
package timetable

import (
	"sort"

	"tgrcode.com/railplan/loader"
)

// Entry is one scheduled calling time, in minutes past the start of the
// service day (may exceed 1440 for a post-midnight "night" entry).
type Entry struct {
	Minutes int
	Class   loader.DayClass
}

// StationSchedule is the sorted sequence of Entry for one station on one
// line.
type StationSchedule struct {
	Entries []Entry
}

// Index is the built Timetable Index for a single line: one StationSchedule
// per station, in the same order as the line's station list.
type Index struct {
	Line      *loader.LineSpec
	ByStation []StationSchedule
}

// Build constructs the Timetable Index for one line, parsing and ordering
// every station's scheduled times.
func Build(line *loader.LineSpec) (*Index, error) {
	idx := &Index{Line: line, ByStation: make([]StationSchedule, len(line.Stations))}
	for i, st := range line.Stations {
		sched, err := buildStationSchedule(st.Times)
		if err != nil {
			return nil, err
		}
		idx.ByStation[i] = sched
	}
	return idx, nil
}

func buildStationSchedule(times loader.StationTimes) (StationSchedule, error) {
	var entries []Entry
	prevLatest := -1

	appendClass := func(class loader.DayClass, values []string) error {
		minutes := make([]int, len(values))
		for i, v := range values {
			m, err := loader.ParseHHMM(v)
			if err != nil {
				return err
			}
			minutes[i] = m
		}
		if class == loader.Night {
			rollPostMidnight(minutes, prevLatest)
		}
		for _, m := range minutes {
			entries = append(entries, Entry{Minutes: m, Class: class})
			if m > prevLatest {
				prevLatest = m
			}
		}
		return nil
	}

	if err := appendClass(loader.Morning, times.Morning); err != nil {
		return StationSchedule{}, err
	}
	if err := appendClass(loader.Afternoon, times.Afternoon); err != nil {
		return StationSchedule{}, err
	}
	if err := appendClass(loader.Evening, times.Evening); err != nil {
		return StationSchedule{}, err
	}
	if err := appendClass(loader.Night, times.Night); err != nil {
		return StationSchedule{}, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Minutes < entries[j].Minutes })
	return StationSchedule{Entries: entries}, nil
}

// rollPostMidnight adds 24h to the night-class minute values that
// represent post-midnight service. A night time numerically below the
// latest time of the earlier classes is next-day; a night-only schedule
// (prevLatest < 0) has nothing to compare against, so the first drop in
// value within the list marks the rollover instead.
func rollPostMidnight(minutes []int, prevLatest int) {
	if prevLatest >= 0 {
		for i := range minutes {
			if minutes[i] < prevLatest {
				minutes[i] += 24 * 60
			}
		}
		return
	}
	wrapAt := -1
	for i := 1; i < len(minutes); i++ {
		if minutes[i] < minutes[i-1] {
			wrapAt = i
			break
		}
	}
	if wrapAt == -1 {
		return
	}
	for i := wrapAt; i < len(minutes); i++ {
		minutes[i] += 24 * 60
	}
}

// NextDeparture returns the earliest scheduled time at stationIndex that is
// >= after and whose day-class is in classes (nil/empty means any class).
// Returns (0, false) if none exists.
func (idx *Index) NextDeparture(stationIndex int, after int, classes ...loader.DayClass) (int, bool) {
	if stationIndex < 0 || stationIndex >= len(idx.ByStation) {
		return 0, false
	}
	allow := classSet(classes)
	for _, e := range idx.ByStation[stationIndex].Entries {
		if e.Minutes >= after && allow(e.Class) {
			return e.Minutes, true
		}
	}
	return 0, false
}

// PrevDeparture returns the latest scheduled time at stationIndex that is
// <= beforeOrAt and whose day-class is in classes (nil/empty means any
// class). Used by the Router's arrive-before mode, which searches the
// timeline backwards. Returns (0, false) if none exists.
func (idx *Index) PrevDeparture(stationIndex int, beforeOrAt int, classes ...loader.DayClass) (int, bool) {
	if stationIndex < 0 || stationIndex >= len(idx.ByStation) {
		return 0, false
	}
	allow := classSet(classes)
	entries := idx.ByStation[stationIndex].Entries
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Minutes <= beforeOrAt && allow(e.Class) {
			return e.Minutes, true
		}
	}
	return 0, false
}

// Range returns every scheduled time at stationIndex within [from, to],
// filtered to the given day-classes (nil/empty means any class).
func (idx *Index) Range(stationIndex int, from, to int, classes ...loader.DayClass) []int {
	if stationIndex < 0 || stationIndex >= len(idx.ByStation) {
		return nil
	}
	allow := classSet(classes)
	var out []int
	for _, e := range idx.ByStation[stationIndex].Entries {
		if e.Minutes >= from && e.Minutes <= to && allow(e.Class) {
			out = append(out, e.Minutes)
		}
	}
	return out
}

func classSet(classes []loader.DayClass) func(loader.DayClass) bool {
	if len(classes) == 0 {
		return func(loader.DayClass) bool { return true }
	}
	set := make(map[loader.DayClass]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return func(c loader.DayClass) bool { return set[c] }
}

// IsMonotone reports whether a station's stored sequence is
// non-decreasing once night entries have rolled over.
func (s StationSchedule) IsMonotone() bool {
	for i := 1; i < len(s.Entries); i++ {
		if s.Entries[i].Minutes < s.Entries[i-1].Minutes {
			return false
		}
	}
	return true
}
