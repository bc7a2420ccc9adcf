// Package loader implements the Line Document Loader: it parses one line
// document (a buffer of JSON, optionally with // comments) into a fully
// validated LineSpec, or rejects it as a whole with a structured error.
//
// The loader never returns a partially populated LineSpec — validation runs
// against a scratch decode target first, and only a clean result is copied
// into the exported type.
package loader

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tgrcode.com/railplan/internal/jsonschema"
)

// ErrorKind enumerates the loader's failure modes.
type ErrorKind string

const (
	MalformedJSON  ErrorKind = "MALFORMED_JSON"
	SchemaMismatch ErrorKind = "SCHEMA_MISMATCH"
	InvalidCoord   ErrorKind = "INVALID_COORD"
	InvalidTime    ErrorKind = "INVALID_TIME"
	EmptyLine      ErrorKind = "EMPTY_LINE"
)

// LoadError is returned whenever a document is rejected. Documents are
// rejected as a whole; there is no partial LineSpec to recover.
type LoadError struct {
	Kind   ErrorKind
	Field  string
	Reason string
}

func (e *LoadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s{field=%s}: %s", e.Kind, e.Field, e.Reason)
}

// Warning is a non-fatal condition recorded against a document during load.
type Warning struct {
	Kind   string
	Detail string
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{2,5}$`)
var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// DayClass is one of morning, afternoon, evening, night.
type DayClass string

const (
	Morning   DayClass = "morning"
	Afternoon DayClass = "afternoon"
	Evening   DayClass = "evening"
	Night     DayClass = "night"
)

var AllDayClasses = []DayClass{Morning, Afternoon, Evening, Night}

// Frequency holds the free-form, human-readable frequency strings a line
// or pattern may declare. Absence is tracked with pointers — a zero value
// is never treated as a default.
type Frequency struct {
	WeekdayPeak    *string
	WeekdayOffPeak *string
	Weekend        *string
	Night          *string
}

// StationTimes is the per-day-class list of scheduled HH:MM calling times
// for one station on one line.
type StationTimes struct {
	Morning   []string
	Afternoon []string
	Evening   []string
	Night     []string
}

func (t StationTimes) ByClass(dc DayClass) []string {
	switch dc {
	case Morning:
		return t.Morning
	case Afternoon:
		return t.Afternoon
	case Evening:
		return t.Evening
	case Night:
		return t.Night
	default:
		return nil
	}
}

// StationSpec is one station entry as carried by a line document.
type StationSpec struct {
	Name        string
	Code        string // "" if absent
	Lat, Lng    float64
	Zone        *int
	Interchange []string
	Times       StationTimes
}

// StopSet is either the ALL sentinel or an explicit list of station
// references (names or codes, possibly dangling).
type StopSet struct {
	All      bool
	StopRefs []string
}

// PatternShape models the duck-typed shape of a service pattern entry:
// some carry only description+stations, others carry the full schedule
// metadata block. Both collapse to this common interface for the resolver.
type PatternShape interface {
	StopSetOf() StopSet
	DescriptionOf() string
	isPatternShape()
}

// MinimalPattern is a stub pattern entry: just a stop-set and description.
type MinimalPattern struct {
	Description string
	Stops       StopSet
}

func (m MinimalPattern) StopSetOf() StopSet    { return m.Stops }
func (m MinimalPattern) DescriptionOf() string { return m.Description }
func (MinimalPattern) isPatternShape()         {}

// DetailedPattern additionally carries the full frequency/schedule block.
type DetailedPattern struct {
	MinimalPattern
	ServiceType        string
	TypicalJourneyTime *int
	Frequency          string
	PeakFrequency      *string
	OffPeakFrequency   *string
	WeekendFrequency   *string
	FirstService       *string
	LastService        *string
	OperatesOn         []string
}

// ServicePatternSpec names a PatternShape.
type ServicePatternSpec struct {
	Name  string
	Shape PatternShape
}

// LineSpec is the fully validated, typed result of loading one document.
type LineSpec struct {
	Name        string
	Description string
	Operator    string
	Color       string
	Frequency   Frequency

	TypicalFrequency string
	PeakHours        string
	Note             string

	Stations []StationSpec
	Patterns map[string]ServicePatternSpec

	TypicalJourneyTimes map[string]int
	TypicalServices     map[string]string

	Warnings []Warning
}

// --- raw decode shapes, matching the line-document schema ---

type rawCoordinates struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type rawTimes struct {
	Morning   []string `json:"morning,omitempty"`
	Afternoon []string `json:"afternoon,omitempty"`
	Evening   []string `json:"evening,omitempty"`
	Night     []string `json:"night,omitempty"`
}

type rawStation struct {
	Name        string          `json:"name"`
	Code        string          `json:"code,omitempty"`
	Coordinates *rawCoordinates `json:"coordinates"`
	Zone        *int            `json:"zone,omitempty"`
	Interchange []string        `json:"interchange,omitempty"`
	Times       *rawTimes       `json:"times,omitempty"`
}

type rawPattern struct {
	ServiceType        string        `json:"service_type,omitempty"`
	Description        string        `json:"description"`
	Stations           jsoncStations `json:"stations"`
	TypicalJourneyTime *int          `json:"typical_journey_time,omitempty"`
	Frequency          string        `json:"frequency,omitempty"`
	PeakFrequency      *string       `json:"peak_frequency,omitempty"`
	OffPeakFrequency   *string       `json:"off_peak_frequency,omitempty"`
	WeekendFrequency   *string       `json:"weekend_frequency,omitempty"`
	FirstService       *string       `json:"first_service,omitempty"`
	LastService        *string       `json:"last_service,omitempty"`
	OperatesOn         []string      `json:"operates_on,omitempty"`
}

// jsoncStations decodes the `"stations"` field of a pattern, which is
// either the literal string "all" or a JSON array of station references.
type jsoncStations struct {
	All  bool
	Refs []string
}

func (s *jsoncStations) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.EqualFold(trimmed, `"all"`) {
		s.All = true
		return nil
	}
	var refs []string
	if err := jsonUnmarshal(data, &refs); err != nil {
		return fmt.Errorf("stations must be \"all\" or an array of strings: %w", err)
	}
	s.Refs = refs
	return nil
}

// jsonUnmarshal is a thin indirection so this file does not import
// encoding/json directly; it reuses the loader's sanitizing decoder.
func jsonUnmarshal(data []byte, v any) error {
	return jsonschema.Decode(data, v)
}

func (s jsoncStations) MarshalJSON() ([]byte, error) {
	if s.All {
		return []byte(`"all"`), nil
	}
	refs := s.Refs
	if refs == nil {
		refs = []string{}
	}
	return jsonschema.Encode(refs)
}

type rawMetadata struct {
	LineName      string        `json:"line_name"`
	Description   string        `json:"description,omitempty"`
	Operator      string        `json:"operator"`
	TotalStations *int          `json:"total_stations,omitempty"`
	LineColor     string        `json:"line_color,omitempty"`
	Frequency     *rawFrequency `json:"frequency,omitempty"`
	TypicalFreq   string        `json:"typical_frequency,omitempty"`
	PeakHours     string        `json:"peak_hours,omitempty"`
	Note          string        `json:"note,omitempty"`
}

type rawFrequency struct {
	WeekdayPeak    *string `json:"weekday_peak,omitempty"`
	WeekdayOffPeak *string `json:"weekday_off_peak,omitempty"`
	Weekend        *string `json:"weekend,omitempty"`
	Night          *string `json:"night,omitempty"`
}

type rawDocument struct {
	Metadata            rawMetadata           `json:"metadata"`
	Stations            []rawStation          `json:"stations"`
	ServicePatterns     map[string]rawPattern `json:"service_patterns"`
	TypicalJourneyTimes map[string]int        `json:"typical_journey_times,omitempty"`
	TypicalServices     map[string]string     `json:"typical_services,omitempty"`
}

// Load parses one line document buffer into a LineSpec, applying every
// validation rule. Documents are rejected as a whole on any failure.
func Load(raw []byte) (*LineSpec, error) {
	if !jsonschema.Valid(raw) {
		return nil, &LoadError{Kind: MalformedJSON, Reason: "document is not valid JSON once comments are stripped"}
	}

	var doc rawDocument
	if err := jsonschema.Decode(raw, &doc); err != nil {
		return nil, &LoadError{Kind: SchemaMismatch, Reason: err.Error()}
	}

	if strings.TrimSpace(doc.Metadata.LineName) == "" {
		return nil, &LoadError{Kind: SchemaMismatch, Field: "metadata.line_name", Reason: "required"}
	}
	if strings.TrimSpace(doc.Metadata.Operator) == "" {
		return nil, &LoadError{Kind: SchemaMismatch, Field: "metadata.operator", Reason: "required"}
	}
	if len(doc.Stations) == 0 {
		return nil, &LoadError{Kind: EmptyLine, Reason: "stations must be non-empty"}
	}
	if len(doc.ServicePatterns) == 0 {
		return nil, &LoadError{Kind: SchemaMismatch, Field: "service_patterns", Reason: "required, must be non-empty"}
	}
	if doc.Metadata.TotalStations != nil && *doc.Metadata.TotalStations != len(doc.Stations) {
		return nil, &LoadError{
			Kind:   SchemaMismatch,
			Field:  "metadata.total_stations",
			Reason: fmt.Sprintf("declared %d but carried %d stations", *doc.Metadata.TotalStations, len(doc.Stations)),
		}
	}

	var warnings []Warning

	stations := make([]StationSpec, 0, len(doc.Stations))
	for i, rs := range doc.Stations {
		spec, stationWarnings, err := convertStation(i, rs)
		if err != nil {
			return nil, err
		}
		stations = append(stations, spec)
		warnings = append(warnings, stationWarnings...)
	}

	patterns := make(map[string]ServicePatternSpec, len(doc.ServicePatterns))
	for name, rp := range doc.ServicePatterns {
		shape, err := convertPattern(name, rp)
		if err != nil {
			return nil, err
		}
		patterns[name] = ServicePatternSpec{Name: name, Shape: shape}
	}

	frequency := Frequency{}
	if doc.Metadata.Frequency != nil {
		frequency.WeekdayPeak = doc.Metadata.Frequency.WeekdayPeak
		frequency.WeekdayOffPeak = doc.Metadata.Frequency.WeekdayOffPeak
		frequency.Weekend = doc.Metadata.Frequency.Weekend
		frequency.Night = doc.Metadata.Frequency.Night
	}

	return &LineSpec{
		Name:                doc.Metadata.LineName,
		Description:         doc.Metadata.Description,
		Operator:            doc.Metadata.Operator,
		Color:               doc.Metadata.LineColor,
		Frequency:           frequency,
		TypicalFrequency:    doc.Metadata.TypicalFreq,
		PeakHours:           doc.Metadata.PeakHours,
		Note:                doc.Metadata.Note,
		Stations:            stations,
		Patterns:            patterns,
		TypicalJourneyTimes: doc.TypicalJourneyTimes,
		TypicalServices:     doc.TypicalServices,
		Warnings:            warnings,
	}, nil
}

func convertStation(index int, rs rawStation) (StationSpec, []Warning, error) {
	field := func(suffix string) string { return fmt.Sprintf("stations[%d].%s", index, suffix) }

	if strings.TrimSpace(rs.Name) == "" {
		return StationSpec{}, nil, &LoadError{Kind: SchemaMismatch, Field: field("name"), Reason: "station name must be non-empty"}
	}
	if rs.Coordinates == nil || rs.Coordinates.Lat == nil || rs.Coordinates.Lng == nil {
		return StationSpec{}, nil, &LoadError{Kind: SchemaMismatch, Field: field("coordinates"), Reason: "coordinates.lat and coordinates.lng are required"}
	}
	lat, lng := *rs.Coordinates.Lat, *rs.Coordinates.Lng
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return StationSpec{}, nil, &LoadError{Kind: InvalidCoord, Field: field("coordinates"), Reason: fmt.Sprintf("lat=%v lng=%v out of range", lat, lng)}
	}
	if rs.Code != "" && !codePattern.MatchString(rs.Code) {
		return StationSpec{}, nil, &LoadError{Kind: SchemaMismatch, Field: field("code"), Reason: fmt.Sprintf("code %q does not match ^[A-Z0-9]{2,5}$", rs.Code)}
	}

	times, warnings, err := convertTimes(field("times"), rs.Times)
	if err != nil {
		return StationSpec{}, nil, err
	}

	return StationSpec{
		Name:        strings.TrimSpace(rs.Name),
		Code:        rs.Code,
		Lat:         lat,
		Lng:         lng,
		Zone:        rs.Zone,
		Interchange: rs.Interchange,
		Times:       times,
	}, warnings, nil
}

func convertTimes(fieldPrefix string, rt *rawTimes) (StationTimes, []Warning, error) {
	if rt == nil {
		return StationTimes{}, nil, nil
	}

	var warnings []Warning
	convert := func(class string, values []string) ([]string, error) {
		out := make([]string, len(values))
		for i, v := range values {
			if !hhmmPattern.MatchString(v) {
				return nil, &LoadError{Kind: InvalidTime, Field: fmt.Sprintf("%s.%s[%d]", fieldPrefix, class, i), Reason: fmt.Sprintf("%q is not HH:MM in [00:00,23:59]", v)}
			}
			out[i] = v
		}

		// The "night" day-class is allowed a single drop in value: that is
		// the post-midnight rollover (e.g. 23:10, 00:15, 02:43), resolved
		// by the Timetable Index as next-day minutes. Every other
		// day-class, and any *second* drop within night, is genuinely
		// unordered input and gets sorted with a warning.
		if class == "night" {
			if ordered, _ := wrapOnceOrdered(out); ordered {
				return out, nil
			}
		}

		if !sort.StringsAreSorted(out) {
			sorted := append([]string(nil), out...)
			sort.Strings(sorted)
			warnings = append(warnings, Warning{Kind: "UNSORTED_TIMES", Detail: fmt.Sprintf("%s.%s was not sorted; sorted on load", fieldPrefix, class)})
			out = sorted
		}
		return out, nil
	}

	morning, err := convert("morning", rt.Morning)
	if err != nil {
		return StationTimes{}, nil, err
	}
	afternoon, err := convert("afternoon", rt.Afternoon)
	if err != nil {
		return StationTimes{}, nil, err
	}
	evening, err := convert("evening", rt.Evening)
	if err != nil {
		return StationTimes{}, nil, err
	}
	night, err := convert("night", rt.Night)
	if err != nil {
		return StationTimes{}, nil, err
	}

	return StationTimes{Morning: morning, Afternoon: afternoon, Evening: evening, Night: night}, warnings, nil
}

func convertPattern(name string, rp rawPattern) (PatternShape, error) {
	if strings.TrimSpace(rp.Description) == "" {
		return nil, &LoadError{Kind: SchemaMismatch, Field: fmt.Sprintf("service_patterns[%s].description", name), Reason: "required"}
	}

	stops := StopSet{All: rp.Stations.All, StopRefs: rp.Stations.Refs}
	minimal := MinimalPattern{Description: rp.Description, Stops: stops}

	isDetailed := rp.ServiceType != "" || rp.TypicalJourneyTime != nil || rp.Frequency != "" ||
		rp.PeakFrequency != nil || rp.OffPeakFrequency != nil || rp.WeekendFrequency != nil ||
		rp.FirstService != nil || rp.LastService != nil || len(rp.OperatesOn) > 0

	if !isDetailed {
		return minimal, nil
	}

	if rp.FirstService != nil && !hhmmPattern.MatchString(*rp.FirstService) {
		return nil, &LoadError{Kind: InvalidTime, Field: fmt.Sprintf("service_patterns[%s].first_service", name), Reason: "not HH:MM"}
	}
	if rp.LastService != nil && !hhmmPattern.MatchString(*rp.LastService) {
		return nil, &LoadError{Kind: InvalidTime, Field: fmt.Sprintf("service_patterns[%s].last_service", name), Reason: "not HH:MM"}
	}

	return DetailedPattern{
		MinimalPattern:     minimal,
		ServiceType:        rp.ServiceType,
		TypicalJourneyTime: rp.TypicalJourneyTime,
		Frequency:          rp.Frequency,
		PeakFrequency:      rp.PeakFrequency,
		OffPeakFrequency:   rp.OffPeakFrequency,
		WeekendFrequency:   rp.WeekendFrequency,
		FirstService:       rp.FirstService,
		LastService:        rp.LastService,
		OperatesOn:         rp.OperatesOn,
	}, nil
}

// wrapOnceOrdered reports whether a list of HH:MM strings is non-decreasing
// allowing at most one drop in value (a midnight rollover). wrapIndex is the
// position of that drop, or -1 if the list is already fully ordered.
func wrapOnceOrdered(values []string) (ok bool, wrapIndex int) {
	wrapAt := -1
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			if wrapAt != -1 {
				return false, -1
			}
			wrapAt = i
		}
	}
	return true, wrapAt
}

// Marshal serialises a LineSpec back into the line-document JSON shape, so
// that Load(Marshal(spec)) reproduces spec for a document that loaded
// without warnings. Unknown fields of the original document are not
// retained, and neither are the load Warnings; everything else the
// LineSpec carries is.
func Marshal(spec *LineSpec) ([]byte, error) {
	doc := rawDocument{
		Metadata: rawMetadata{
			LineName:    spec.Name,
			Description: spec.Description,
			Operator:    spec.Operator,
			LineColor:   spec.Color,
			TypicalFreq: spec.TypicalFrequency,
			PeakHours:   spec.PeakHours,
			Note:        spec.Note,
		},
		TypicalJourneyTimes: spec.TypicalJourneyTimes,
		TypicalServices:     spec.TypicalServices,
	}

	f := spec.Frequency
	if f.WeekdayPeak != nil || f.WeekdayOffPeak != nil || f.Weekend != nil || f.Night != nil {
		doc.Metadata.Frequency = &rawFrequency{
			WeekdayPeak:    f.WeekdayPeak,
			WeekdayOffPeak: f.WeekdayOffPeak,
			Weekend:        f.Weekend,
			Night:          f.Night,
		}
	}

	doc.Stations = make([]rawStation, len(spec.Stations))
	for i, st := range spec.Stations {
		lat, lng := st.Lat, st.Lng
		rs := rawStation{
			Name:        st.Name,
			Code:        st.Code,
			Coordinates: &rawCoordinates{Lat: &lat, Lng: &lng},
			Zone:        st.Zone,
			Interchange: st.Interchange,
		}
		t := st.Times
		if len(t.Morning)+len(t.Afternoon)+len(t.Evening)+len(t.Night) > 0 {
			rs.Times = &rawTimes{Morning: t.Morning, Afternoon: t.Afternoon, Evening: t.Evening, Night: t.Night}
		}
		doc.Stations[i] = rs
	}

	doc.ServicePatterns = make(map[string]rawPattern, len(spec.Patterns))
	for name, p := range spec.Patterns {
		doc.ServicePatterns[name] = marshalPattern(p.Shape)
	}

	return jsonschema.Encode(doc)
}

func marshalPattern(shape PatternShape) rawPattern {
	stops := shape.StopSetOf()
	rp := rawPattern{
		Description: shape.DescriptionOf(),
		Stations:    jsoncStations{All: stops.All, Refs: stops.StopRefs},
	}
	if d, ok := shape.(DetailedPattern); ok {
		rp.ServiceType = d.ServiceType
		rp.TypicalJourneyTime = d.TypicalJourneyTime
		rp.Frequency = d.Frequency
		rp.PeakFrequency = d.PeakFrequency
		rp.OffPeakFrequency = d.OffPeakFrequency
		rp.WeekendFrequency = d.WeekendFrequency
		rp.FirstService = d.FirstService
		rp.LastService = d.LastService
		rp.OperatesOn = d.OperatesOn
	}
	return rp
}

// ParseHHMM converts an "HH:MM" string into minutes past midnight. Callers
// should only pass strings that have already validated against hhmmPattern.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("not HH:MM: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
