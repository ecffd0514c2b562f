// Package engine runs one clash-detection pass: filter, index, narrow phase and
// aggregation, reporting progress between phases.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/clashcheck/internal/clash"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/spatial"
)

// Engine defaults.
const (
	DefaultBatchSize            = 1024
	DefaultMaxElements          = 200_000
	DefaultMaxCandidatePairs    = 5_000_000
	DefaultMaxIndexCells        = 20_000_000
	DefaultGroupingRadiusFactor = 10.0
)

// CeilingElements is the LimitError ceiling for the element count.
const CeilingElements = "elements"

// Phase names a stage of a run.
type Phase string

const (
	PhaseLoad      Phase = "load"
	PhaseIndex     Phase = "index"
	PhaseNarrow    Phase = "narrow"
	PhaseAggregate Phase = "aggregate"
	PhasePersist   Phase = "persist"
)

// Overall progress reached when each phase finishes. Load and persist are
// reported by the orchestrator around Run.
const (
	ProgressLoaded     = 20
	ProgressIndexed    = 40
	ProgressNarrowed   = 80
	ProgressAggregated = 90
	ProgressPersisted  = 100
)

// ProgressFunc receives overall job progress (0-100). Calls never decrease
// percent within one run and are serialised.
type ProgressFunc func(phase Phase, percent int)

// clashNamespace seeds deterministic clash GUIDs.
var clashNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("clashcheck/clash"))

// Options holds the deployment-level engine settings. Job parameters travel on
// the job itself.
type Options struct {
	Workers              int
	BatchSize            int
	MaxElements          int
	MaxCandidatePairs    int
	MaxIndexCells        int
	CellToleranceFactor  float64
	MinCellSize          float64
	GroupingRadiusFactor float64 // grouping radius as a multiple of tolerance
	Categories           *clash.CategoryRules
}

// DefaultOptions returns the built-in ceilings with one worker per CPU.
func DefaultOptions() Options {
	return Options{
		Workers:              runtime.NumCPU(),
		BatchSize:            DefaultBatchSize,
		MaxElements:          DefaultMaxElements,
		MaxCandidatePairs:    DefaultMaxCandidatePairs,
		MaxIndexCells:        DefaultMaxIndexCells,
		CellToleranceFactor:  spatial.DefaultCellToleranceFactor,
		MinCellSize:          spatial.DefaultMinCellSize,
		GroupingRadiusFactor: DefaultGroupingRadiusFactor,
	}
}

// Validate rejects options that would disable a safety ceiling or stall the
// worker pool.
func (o Options) Validate() error {
	switch {
	case o.Workers <= 0:
		return configurationf("workers must be positive, got %d", o.Workers)
	case o.BatchSize <= 0:
		return configurationf("batch size must be positive, got %d", o.BatchSize)
	case o.MaxElements <= 0:
		return configurationf("max elements must be positive, got %d", o.MaxElements)
	case o.MaxCandidatePairs <= 0:
		return configurationf("max candidate pairs must be positive, got %d", o.MaxCandidatePairs)
	case o.MaxIndexCells <= 0:
		return configurationf("max index cells must be positive, got %d", o.MaxIndexCells)
	case o.CellToleranceFactor <= 0 || o.MinCellSize <= 0:
		return configurationf("cell size factors must be positive")
	case o.GroupingRadiusFactor < 0:
		return configurationf("grouping radius factor must be non-negative, got %v", o.GroupingRadiusFactor)
	}
	return nil
}

// Result is the outcome of a successful run. Nothing is persisted by Run.
type Result struct {
	Clashes          []models.Clash
	Results          models.JobResults
	ElementsAnalyzed int
	CandidatePairs   int
	Index            spatial.Stats
}

// Engine executes detection runs. It holds no per-job state and may run many
// jobs concurrently.
type Engine struct {
	opts   Options
	tester func(tolerance float64) *clash.Tester

	// Now stamps DetectedAt on clashes.
	Now func() time.Time
}

// New creates an engine after validating opts.
func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rules := opts.Categories
	if rules == nil {
		rules = clash.DefaultCategoryRules()
	}
	return &Engine{
		opts: opts,
		tester: func(tolerance float64) *clash.Tester {
			return clash.NewTester(tolerance, rules)
		},
		Now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Options returns the engine settings.
func (e *Engine) Options() Options {
	return e.opts
}

// GroupingRadius returns the radius used to merge clashes for the given
// parameters: the explicit radius, else GroupingRadiusFactor x tolerance,
// floored at the minimum cell size.
func (e *Engine) GroupingRadius(p models.Parameters) float64 {
	if p.GroupingRadius > 0 {
		return p.GroupingRadius
	}
	return max(e.opts.GroupingRadiusFactor*p.Tolerance, e.opts.MinCellSize)
}

// Run detects clashes among elements for job. The returned clashes are
// ordered best first and capped at the job's LimitResults. progress may be nil.
func (e *Engine) Run(ctx context.Context, job models.ClashDetectionJob, elements []models.Element, progress ProgressFunc) (*Result, error) {
	report := newReporter(progress)

	params := job.Parameters.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	selected, err := e.selectElements(job, params, elements)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(PhaseIndex, err)
	}

	// Index
	grid, err := spatial.Build(selected, spatial.Options{
		Tolerance:           params.Tolerance,
		CellToleranceFactor: e.opts.CellToleranceFactor,
		MinCellSize:         e.opts.MinCellSize,
		MaxCells:            e.opts.MaxIndexCells,
		MaxCandidatePairs:   e.opts.MaxCandidatePairs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceLimit, err)
	}
	pairs, err := grid.Candidates()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceLimit, err)
	}
	report.set(PhaseIndex, ProgressIndexed)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(PhaseNarrow, err)
	}

	// Narrow phase
	partials, err := e.narrow(ctx, e.tester(params.Tolerance), pairs, report)
	if err != nil {
		return nil, err
	}
	report.set(PhaseNarrow, ProgressNarrowed)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(PhaseAggregate, err)
	}

	// Aggregate
	agg := clash.NewAggregator(clash.AggregatorOptions{
		LimitResults:      params.LimitResults,
		AutomaticGrouping: params.Grouping(),
		GroupingRadius:    e.GroupingRadius(params),
	})
	for _, part := range partials {
		agg.AddAll(part)
	}
	outcome := agg.Finalize()
	report.set(PhaseAggregate, ProgressAggregated)

	now := e.Now()
	clashes := make([]models.Clash, len(outcome.Clashes))
	for i, c := range outcome.Clashes {
		clashes[i] = toClash(job, c, now)
	}

	return &Result{
		Clashes:          clashes,
		Results:          models.JobResults{TotalClashes: outcome.TotalClashes},
		ElementsAnalyzed: len(selected),
		CandidatePairs:   len(pairs),
		Index:            grid.Stats(),
	}, nil
}

// selectElements applies the file and type filters and validates what is left.
func (e *Engine) selectElements(job models.ClashDetectionJob, params models.Parameters, elements []models.Element) ([]*models.Element, error) {
	selected := make([]*models.Element, 0, len(elements))
	seen := make(map[string]struct{}, len(elements))
	inFiles := 0
	for i := range elements {
		el := &elements[i]
		if len(job.Files) > 0 && !slices.Contains(job.Files, el.File) {
			continue
		}
		inFiles++
		if !params.AllowsType(el.Type) {
			continue
		}
		if err := el.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if _, dup := seen[el.GUID]; dup {
			return nil, configurationf("duplicate element guid %s", el.GUID)
		}
		seen[el.GUID] = struct{}{}
		selected = append(selected, el)
	}

	switch {
	case len(elements) == 0:
		return nil, Dependency("load elements", ErrNoElements)
	case inFiles == 0:
		return nil, configurationf("file filter %v matches none of %d elements", job.Files, len(elements))
	case len(selected) == 0:
		return nil, configurationf("type filter %v matches none of %d elements", params.Types, inFiles)
	}
	if len(selected) > e.opts.MaxElements {
		return nil, fmt.Errorf("%w: %w", ErrResourceLimit, &spatial.LimitError{
			Ceiling:  CeilingElements,
			Limit:    e.opts.MaxElements,
			Observed: len(selected),
		})
	}
	return selected, nil
}

// narrow fans the candidate pairs out over the worker pool. Each batch writes
// only its own slot, so partials come back in batch order whatever the
// scheduling.
func (e *Engine) narrow(ctx context.Context, tester *clash.Tester, pairs []spatial.Pair, report *reporter) ([][]clash.Candidate, error) {
	batches := len(pairs) / e.opts.BatchSize
	if len(pairs)%e.opts.BatchSize != 0 {
		batches++
	}
	partials := make([][]clash.Candidate, batches)

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i := range batches {
		if gctx.Err() != nil {
			break
		}
		lo := i * e.opts.BatchSize
		hi := min(lo+e.opts.BatchSize, len(pairs))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = tester.TestPairs(pairs[lo:hi])

			mu.Lock()
			done++
			pct := ProgressIndexed + (ProgressNarrowed-ProgressIndexed)*done/batches
			mu.Unlock()
			report.set(PhaseNarrow, pct)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, cancelled(PhaseNarrow, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(PhaseNarrow, err)
	}
	return partials, nil
}

func toClash(job models.ClashDetectionJob, c clash.Candidate, detectedAt time.Time) models.Clash {
	return models.Clash{
		GUID:        ClashGUID(job.GUID, c.Key),
		Job:         job.GUID,
		Project:     job.Project,
		Status:      models.ClashStatusOpen,
		DetectedAt:  detectedAt,
		ElementData: models.ElementPair{Element1: c.Element1, Element2: c.Element2},
		Distance:    c.Distance,
		Severity:    c.Severity,
		Category:    c.Category,
		GroupSize:   c.Merged + 1,
	}
}

// ClashGUID derives a stable clash identifier from the job and element pair.
func ClashGUID(jobGUID string, key spatial.PairKey) string {
	return uuid.NewSHA1(clashNamespace, []byte(jobGUID+"/"+key.String())).String()
}

// reporter serialises progress callbacks and drops regressions.
type reporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
}

func newReporter(fn ProgressFunc) *reporter {
	return &reporter{fn: fn}
}

func (r *reporter) set(phase Phase, percent int) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent <= r.last {
		return
	}
	r.last = percent
	r.fn(phase, percent)
}
