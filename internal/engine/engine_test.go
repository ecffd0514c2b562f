package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/raphaelgruber/clashcheck/internal/clash"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/spatial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	typeBeam = 753
	typeDuct = 1020
	typeWall = 2391
)

var detectedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func box(guid string, typ int, typeName string, minX, minY, minZ, maxX, maxY, maxZ float64) models.Element {
	return models.Element{
		GUID:       guid,
		Type:       typ,
		TypeName:   typeName,
		File:       "model.ifc",
		Project:    "p1",
		Position:   models.Vec3{X: (minX + maxX) / 2, Y: (minY + maxY) / 2, Z: (minZ + maxZ) / 2},
		Dimensions: models.Vec3{X: maxX - minX, Y: maxY - minY, Z: maxZ - minZ},
	}
}

func exampleElements() []models.Element {
	return []models.Element{
		box("A", typeBeam, "IfcBeam", 0, 0, 0, 1, 1, 1),
		box("B", typeDuct, "IfcDuctSegment", 0.9, 0, 0, 2, 1, 1),
		box("C", typeWall, "IfcWall", 10, 10, 10, 11, 11, 11),
	}
}

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Workers = 4
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)
	eng.Now = func() time.Time { return detectedAt }
	return eng
}

func jobWith(params models.Parameters) models.ClashDetectionJob {
	return models.ClashDetectionJob{
		GUID:       "job-1",
		Project:    "p1",
		Files:      []string{"model.ifc"},
		Parameters: params,
		Status:     models.JobStatusProcessing,
	}
}

func TestRunExampleScenario(t *testing.T) {
	eng := newTestEngine(t, nil)

	for _, tol := range []float64{0.05, 0.2} {
		t.Run(fmt.Sprintf("tolerance %v", tol), func(t *testing.T) {
			params := models.DefaultParameters()
			params.Tolerance = tol

			res, err := eng.Run(context.Background(), jobWith(params), exampleElements(), nil)
			require.NoError(t, err)

			assert.Equal(t, 3, res.ElementsAnalyzed)
			assert.Equal(t, 1, res.Results.TotalClashes)
			require.Len(t, res.Clashes, 1)

			c := res.Clashes[0]
			assert.InDelta(t, -0.1, c.Distance, 1e-9)
			assert.Equal(t, "A", c.ElementData.Element1.ID)
			assert.Equal(t, "B", c.ElementData.Element2.ID)
			assert.Equal(t, clash.Severity(c.Distance, tol), c.Severity)
			assert.Equal(t, "Structural-MEP", c.Category)
			assert.Equal(t, models.ClashStatusOpen, c.Status)
			assert.Equal(t, "job-1", c.Job)
			assert.Equal(t, "p1", c.Project)
			assert.Equal(t, detectedAt, c.DetectedAt)
			assert.Nil(t, c.ResolvedAt)
			assert.Equal(t, ClashGUID("job-1", spatial.MakePairKey("A", "B")), c.GUID)
		})
	}
}

func TestRunTypeFilter(t *testing.T) {
	eng := newTestEngine(t, nil)

	params := models.DefaultParameters()
	params.Types = []int{typeBeam, typeWall}
	res, err := eng.Run(context.Background(), jobWith(params), exampleElements(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ElementsAnalyzed)
	assert.Empty(t, res.Clashes)
	assert.Equal(t, 0, res.Results.TotalClashes)

	params.Types = []int{99999}
	_, err = eng.Run(context.Background(), jobWith(params), exampleElements(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRunFileFilter(t *testing.T) {
	eng := newTestEngine(t, nil)

	elements := exampleElements()
	elements[1].File = "other.ifc"
	res, err := eng.Run(context.Background(), jobWith(models.DefaultParameters()), elements, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ElementsAnalyzed)
	assert.Empty(t, res.Clashes)
}

func TestRunNothingSelected(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.Run(ctx, jobWith(models.DefaultParameters()), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoElements)
	assert.Equal(t, KindDependency, Kind(err))

	job := jobWith(models.DefaultParameters())
	job.Files = []string{"missing.ifc"}
	_, err = eng.Run(ctx, job, exampleElements(), nil)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, Kind(err))
	assert.Contains(t, err.Error(), "file filter")
}

func TestRunRejectsBadInput(t *testing.T) {
	eng := newTestEngine(t, nil)

	tests := []struct {
		name     string
		params   func(*models.Parameters)
		elements func([]models.Element) []models.Element
	}{
		{
			name:   "negative tolerance",
			params: func(p *models.Parameters) { p.Tolerance = -0.01 },
		},
		{
			name: "duplicate guid",
			elements: func(els []models.Element) []models.Element {
				els[2].GUID = "A"
				return els
			},
		},
		{
			name: "negative dimensions",
			elements: func(els []models.Element) []models.Element {
				els[0].Dimensions.Y = -1
				return els
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := models.DefaultParameters()
			if tt.params != nil {
				tt.params(&params)
			}
			elements := exampleElements()
			if tt.elements != nil {
				elements = tt.elements(elements)
			}
			_, err := eng.Run(context.Background(), jobWith(params), elements, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, KindConfiguration, Kind(err))
		})
	}
}

func TestRunElementCeiling(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) { o.MaxElements = 2 })

	_, err := eng.Run(context.Background(), jobWith(models.DefaultParameters()), exampleElements(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceLimit)

	var limit *spatial.LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, CeilingElements, limit.Ceiling)
	assert.Equal(t, 3, limit.Observed)
}

func TestRunCandidatePairCeiling(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) { o.MaxCandidatePairs = 5 })

	var elements []models.Element
	for i := range 6 {
		elements = append(elements, box(fmt.Sprintf("e%d", i), typeWall, "IfcWall", 0, 0, 0, 1, 1, 1))
	}
	_, err := eng.Run(context.Background(), jobWith(models.DefaultParameters()), elements, nil)
	require.Error(t, err)
	assert.Equal(t, KindResourceLimit, Kind(err))

	var limit *spatial.LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, spatial.CeilingCandidatePairs, limit.Ceiling)
}

func TestRunCancelled(t *testing.T) {
	eng := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.Run(ctx, jobWith(models.DefaultParameters()), exampleElements(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, KindCancelled, Kind(err))
}

// pairedElements builds n disjoint clashing pairs with growing penetration.
func pairedElements(n int) []models.Element {
	var elements []models.Element
	for i := range n {
		x := float64(i) * 10
		depth := 0.01 + 0.03*float64(i%9)
		elements = append(elements,
			box(fmt.Sprintf("w%03d", i), typeWall, "IfcWall", x, 0, 0, x+1, 1, 1),
			box(fmt.Sprintf("d%03d", i), typeDuct, "IfcDuctSegment", x+1-depth, 0, 0, x+2, 1, 1),
		)
	}
	return elements
}

func TestRunResultCap(t *testing.T) {
	eng := newTestEngine(t, nil)

	params := models.DefaultParameters()
	params.LimitResults = 5
	noGrouping := false
	params.AutomaticGrouping = &noGrouping

	res, err := eng.Run(context.Background(), jobWith(params), pairedElements(20), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Results.TotalClashes)
	require.Len(t, res.Clashes, 5)

	for i := 1; i < len(res.Clashes); i++ {
		prev, cur := res.Clashes[i-1], res.Clashes[i]
		assert.True(t, prev.Severity > cur.Severity ||
			(prev.Severity == cur.Severity && prev.Distance <= cur.Distance),
			"clashes out of rank order at %d", i)
	}
	// the deepest penetration (0.25) is always kept
	assert.InDelta(t, -0.25, res.Clashes[0].Distance, 1e-9)
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	params := models.DefaultParameters()
	params.Tolerance = 0.1
	elements := pairedElements(40)

	var runs [][]models.Clash
	for _, workers := range []int{1, 3, 8} {
		eng := newTestEngine(t, func(o *Options) {
			o.Workers = workers
			o.BatchSize = 2
		})
		res, err := eng.Run(context.Background(), jobWith(params), elements, nil)
		require.NoError(t, err)
		runs = append(runs, res.Clashes)
	}
	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[0], runs[2])
}

func TestRunGroupsNearbyClashes(t *testing.T) {
	eng := newTestEngine(t, nil)

	// one slab crossed by three ducts 0.3m apart
	elements := []models.Element{
		box("slab", typeBeam, "IfcSlab", 0, 0, 0, 10, 10, 0.3),
		box("duct1", typeDuct, "IfcDuctSegment", 1.0, 1, -1, 1.2, 1.2, 1),
		box("duct2", typeDuct, "IfcDuctSegment", 1.3, 1, -1, 1.5, 1.2, 1),
		box("duct3", typeDuct, "IfcDuctSegment", 8.0, 8, -1, 8.2, 8.2, 1),
	}

	params := models.DefaultParameters()
	res, err := eng.Run(context.Background(), jobWith(params), elements, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Results.TotalClashes)
	require.Len(t, res.Clashes, 2)
	assert.Equal(t, "duct1", res.Clashes[0].ElementData.Element1.ID)
	assert.Equal(t, 2, res.Clashes[0].GroupSize)
	assert.Equal(t, "duct3", res.Clashes[1].ElementData.Element1.ID)
	assert.Equal(t, 1, res.Clashes[1].GroupSize)

	noGrouping := false
	params.AutomaticGrouping = &noGrouping
	res, err = eng.Run(context.Background(), jobWith(params), elements, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Results.TotalClashes)
}

func TestRunProgressMonotonic(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) { o.BatchSize = 3 })

	var seen []int
	var phases []Phase
	_, err := eng.Run(context.Background(), jobWith(models.DefaultParameters()), pairedElements(30), func(phase Phase, pct int) {
		seen = append(seen, pct)
		phases = append(phases, phase)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, ProgressIndexed, seen[0])
	assert.Equal(t, ProgressAggregated, seen[len(seen)-1])
	assert.Equal(t, PhaseAggregate, phases[len(phases)-1])
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.MaxCandidatePairs = 0
	assert.ErrorIs(t, opts.Validate(), ErrConfiguration)

	opts = DefaultOptions()
	opts.Workers = 0
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestGroupingRadius(t *testing.T) {
	eng := newTestEngine(t, nil)
	assert.InDelta(t, 0.5, eng.GroupingRadius(models.Parameters{Tolerance: 0.05}), 1e-12)
	assert.InDelta(t, 2.0, eng.GroupingRadius(models.Parameters{Tolerance: 0.05, GroupingRadius: 2}), 1e-12)
	assert.InDelta(t, spatial.DefaultMinCellSize, eng.GroupingRadius(models.Parameters{}), 1e-12)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrConfiguration), KindConfiguration},
		{fmt.Errorf("%w: %w", ErrResourceLimit, &spatial.LimitError{Ceiling: "x"}), KindResourceLimit},
		{Dependency("load elements", errors.New("connection refused")), KindDependency},
		{context.Canceled, KindCancelled},
		{cancelled(PhaseIndex, context.Canceled), KindCancelled},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestDependencyKeepsCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := Dependency("persist results", cause)
	assert.ErrorIs(t, err, ErrDependency)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "persist results")
}
