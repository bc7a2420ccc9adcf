// Package railplan is the query facade: the one entry point external
// collaborators call. It validates station references, converts relative
// times through an injected clock, and hands the work to the router and
// journey formatter.
package railplan

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"tgrcode.com/railplan/internal/jsonschema"
	"tgrcode.com/railplan/journey"
	"tgrcode.com/railplan/loader"
	"tgrcode.com/railplan/network"
	"tgrcode.com/railplan/router"
)

// QueryError is the INVALID_QUERY taxonomy entry: the request itself is
// unusable (unresolved station reference, arrive-before already in the
// past, unknown day-class). No partial result accompanies it.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string { return "INVALID_QUERY: " + e.Reason }

// DefaultQueryTimeout bounds one query's wall-clock time whenever the
// caller's context carries no deadline of its own. A timed-out query
// returns whatever non-dominated journeys it has found, marked Partial.
const DefaultQueryTimeout = 2000 * time.Millisecond

// Clock supplies the current time, injected so relative queries ("now",
// "in 30 minutes") are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config configures a Planner. Zero-valued Options fields fall back to
// their package defaults.
type Config struct {
	DatasetDir     string
	NetworkOptions network.Options
	RouterOptions  router.Options
	Clock          Clock
	Logger         *log.Logger // dataset-load and assembly diagnostics; nil means silent
}

// LoadResult reports which dataset files parsed cleanly and which did
// not, letting NewPlanner build a Network from the documents that loaded
// even when a sibling file is malformed.
type LoadResult struct {
	Specs  []*loader.LineSpec
	Errors map[string]error // file path -> load error
}

// Planner is the built, query-ready facade over one assembled Network.
type Planner struct {
	Network       *network.Network
	Load          LoadResult
	RouterOptions router.Options
	clock         Clock
	logger        *log.Logger
}

// NewPlanner loads every recognised line document under cfg.DatasetDir,
// assembles the Network, and returns a Planner ready to serve queries.
func NewPlanner(cfg Config) (*Planner, error) {
	logf := func(format string, args ...any) {
		if cfg.Logger != nil {
			cfg.Logger.Printf(format, args...)
		}
	}

	load, err := loadDataset(cfg.DatasetDir)
	if err != nil {
		return nil, err
	}
	badFiles := make([]string, 0, len(load.Errors))
	for path := range load.Errors {
		badFiles = append(badFiles, path)
	}
	sort.Strings(badFiles)
	for _, path := range badFiles {
		logf("skipping %s: %v", path, load.Errors[path])
	}
	if len(load.Specs) == 0 {
		return nil, fmt.Errorf("DATASET_EMPTY: no line document under %q parsed successfully", cfg.DatasetDir)
	}

	netOpts := cfg.NetworkOptions
	if netOpts == (network.Options{}) {
		netOpts = network.DefaultOptions()
	}
	n, err := network.Build(load.Specs, netOpts)
	if err != nil {
		return nil, fmt.Errorf("assembling network: %w", err)
	}

	dangling := 0
	for _, refs := range n.Report.DanglingReferences {
		dangling += len(refs)
	}
	logf("assembled network: %d stations, %d lines, %d dangling references, %d code collisions, %d disconnected components",
		len(n.Stations), len(n.Lines), dangling, len(n.Report.CodeCollisions), len(n.Report.DisconnectedComponents))

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	routerOpts := cfg.RouterOptions
	if routerOpts == (router.Options{}) {
		routerOpts = router.DefaultOptions()
	}

	return &Planner{Network: n, Load: load, RouterOptions: routerOpts, clock: clock, logger: cfg.Logger}, nil
}

func (p *Planner) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// recognisedExtensions mark the dataset files loaded as line documents.
var recognisedExtensions = []string{".json", ".json.backup"}

// documentSeparator is the sentinel line a dataset file may use to pack
// more than one line document into itself.
const documentSeparator = "---"

func loadDataset(dir string) (LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return LoadResult{}, fmt.Errorf("reading dataset directory %q: %w", dir, err)
	}

	result := LoadResult{Errors: make(map[string]error)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matched := false
		for _, ext := range recognisedExtensions {
			if strings.HasSuffix(name, ext) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			result.Errors[path] = err
			continue
		}

		for i, chunk := range splitDocuments(raw) {
			spec, err := loader.Load(chunk)
			if err != nil {
				result.Errors[fmt.Sprintf("%s#%d", path, i)] = err
				continue
			}
			result.Specs = append(result.Specs, spec)
		}
	}
	return result, nil
}

// splitDocuments breaks a file into one or more line-document byte
// buffers at any line containing only "---", tolerating the single most
// common case of one document per file.
func splitDocuments(raw []byte) [][]byte {
	lines := strings.Split(string(raw), "\n")
	var chunks [][]byte
	var cur strings.Builder
	flush := func() {
		if strings.TrimSpace(cur.String()) != "" {
			chunks = append(chunks, []byte(cur.String()))
		}
		cur.Reset()
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == documentSeparator {
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	if len(chunks) == 0 {
		return [][]byte{raw}
	}
	return chunks
}

// Report returns the assembly-time diagnostics collected while building
// the Network.
func (p *Planner) Report() network.AssemblyReport {
	return p.Network.Report
}

// PlanRequest is one journey-planning request. Exactly one of
// DepartAfter or ArriveBefore should be set; if both are empty,
// DepartAfter defaults to "now". Origin and Destination are station
// references (name or code, per network.Network.ResolveStationRef).
type PlanRequest struct {
	Origin, Destination string
	DepartAfter         string
	ArriveBefore        string
	MaxResults          int
	MaxTransfers        int

	// DayClasses overrides the day-class filter. Empty means "derive from
	// the query datetime's wall-clock hour"; list all four classes to
	// disable filtering entirely.
	DayClasses []string
}

// PlanResult is the Query Facade's answer to one PlanRequest.
type PlanResult struct {
	Journeys []*journey.Journey
	Reason   string
	Partial  bool
}

// Plan resolves req against the Network, runs the Router, and formats
// every resulting label into a Journey.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	q, err := p.buildQuery(req)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultQueryTimeout)
		defer cancel()
	}

	opts := p.RouterOptions
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}
	if req.MaxTransfers > 0 {
		opts.MaxTransfers = req.MaxTransfers
	}

	result := router.Route(ctx, p.Network, q, opts)
	if result.Partial {
		p.logf("query %s -> %s returned partial results", req.Origin, req.Destination)
	}
	return &PlanResult{
		Journeys: journey.FormatAll(result.Labels, q.Direction),
		Reason:   result.Reason,
		Partial:  result.Partial,
	}, nil
}

// PlanStream is the streaming variant of Plan: it yields journeys as
// they are discovered and closes the returned channel when the search is
// exhausted or ctx is cancelled. Depart-after journeys come in
// non-decreasing arrival-time order; arrive-before journeys come latest
// departure first, and their arrival times are not sorted.
func (p *Planner) PlanStream(ctx context.Context, req PlanRequest) (<-chan *journey.Journey, error) {
	q, err := p.buildQuery(req)
	if err != nil {
		return nil, err
	}

	opts := p.RouterOptions
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}
	if req.MaxTransfers > 0 {
		opts.MaxTransfers = req.MaxTransfers
	}

	streamCtx := ctx
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		streamCtx, cancel = context.WithTimeout(ctx, DefaultQueryTimeout)
	}

	labels := make(chan *router.Label)
	out := make(chan *journey.Journey)

	go router.Stream(streamCtx, p.Network, q, opts, labels)
	go func() {
		defer close(out)
		defer cancel()
		for l := range labels {
			select {
			case out <- journey.Format(l, q.Direction):
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (p *Planner) buildQuery(req PlanRequest) (router.Query, error) {
	origin, ok := p.Network.ResolveStationRef(req.Origin)
	if !ok {
		return router.Query{}, &QueryError{Reason: fmt.Sprintf("unknown station reference %q", req.Origin)}
	}
	destination, ok := p.Network.ResolveStationRef(req.Destination)
	if !ok {
		return router.Query{}, &QueryError{Reason: fmt.Sprintf("unknown station reference %q", req.Destination)}
	}

	if req.ArriveBefore != "" {
		t, err := ParseWhen(req.ArriveBefore, p.clock)
		if err != nil {
			return router.Query{}, &QueryError{Reason: fmt.Sprintf("parsing arrive_before: %v", err)}
		}
		if t.Before(p.clock.Now()) {
			return router.Query{}, &QueryError{Reason: fmt.Sprintf("arrive_before %s is in the past", t.Format(time.RFC3339))}
		}
		classes, err := dayClassFilter(req.DayClasses, t)
		if err != nil {
			return router.Query{}, err
		}
		return router.Query{Origin: origin, Destination: destination, Direction: router.ArriveBefore, Time: minutesSinceMidnight(t), DayClasses: classes}, nil
	}

	when := req.DepartAfter
	if when == "" {
		when = "now"
	}
	t, err := ParseWhen(when, p.clock)
	if err != nil {
		return router.Query{}, &QueryError{Reason: fmt.Sprintf("parsing depart_after: %v", err)}
	}
	classes, err := dayClassFilter(req.DayClasses, t)
	if err != nil {
		return router.Query{}, err
	}
	return router.Query{Origin: origin, Destination: destination, Direction: router.DepartAfter, Time: minutesSinceMidnight(t), DayClasses: classes}, nil
}

func minutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DayClassFor derives the day-class of a query datetime from its
// wall-clock hour: morning [05:00,12:00), afternoon [12:00,18:00),
// evening [18:00,23:00), night otherwise.
func DayClassFor(t time.Time) loader.DayClass {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return loader.Morning
	case h >= 12 && h < 18:
		return loader.Afternoon
	case h >= 18 && h < 23:
		return loader.Evening
	default:
		return loader.Night
	}
}

func dayClassFilter(override []string, t time.Time) ([]loader.DayClass, error) {
	if len(override) == 0 {
		return []loader.DayClass{DayClassFor(t)}, nil
	}
	classes := make([]loader.DayClass, 0, len(override))
	for _, s := range override {
		dc := loader.DayClass(strings.ToLower(strings.TrimSpace(s)))
		switch dc {
		case loader.Morning, loader.Afternoon, loader.Evening, loader.Night:
			classes = append(classes, dc)
		default:
			return nil, &QueryError{Reason: fmt.Sprintf("unknown day-class %q", s)}
		}
	}
	return classes, nil
}

var relativeInPattern = regexp.MustCompile(`(?i)^in\s+(\d+)\s*(minute|min|hour|hr)s?$`)

// ParseWhen converts a relative or absolute time expression into a
// concrete time.Time using clock for "now"-relative phrases. Recognised
// forms: "now", "in N minutes"/"in N min", "in N hours"/"in N hr", or an
// RFC3339 timestamp.
func ParseWhen(s string, clock Clock) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "now") {
		return clock.Now(), nil
	}
	if m := relativeInPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing relative time %q: %w", s, err)
		}
		unit := strings.ToLower(m[2])
		d := time.Duration(n) * time.Minute
		if unit == "hour" || unit == "hr" {
			d = time.Duration(n) * time.Hour
		}
		return clock.Now().Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

// ValidateDocument reports whether raw is syntactically a valid line
// document (comments stripped) without fully decoding it, exposed for
// callers that want to pre-flight uploaded datasets.
func ValidateDocument(raw []byte) bool {
	return jsonschema.Valid(raw)
}
