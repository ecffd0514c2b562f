package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/clashcheck/internal/client"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/server"
)

const beamDuctManifest = `project: tower
file: structure.ifc
elements:
  - guid: beam-1
    type: 753
    type_name: IfcBeam
    name: B-101
    position: {x: 0, y: 0, z: 3}
    dimensions: {x: 6, y: 0.3, z: 0.5}
  - guid: duct-1
    type: 1095
    type_name: IfcDuctSegment
    file: mep.ifc
    position: {x: 1, y: 0, z: 3.3}
    dimensions: {x: 0.4, y: 4, z: 0.4}
  - guid: wall-1
    type: 1222
    type_name: IfcWall
    position: {x: 50, y: 50, z: 0}
    dimensions: {x: 0.2, y: 5, z: 3}
`

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "check"}
	cmd.Flags().Float64VarP(&checkTolerance, "tolerance", "t", models.DefaultTolerance, "")
	cmd.Flags().IntSliceVar(&checkTypes, "type", nil, "")
	cmd.Flags().IntVarP(&checkLimit, "limit", "n", models.DefaultLimitResults, "")
	cmd.Flags().BoolVar(&checkNoGrouping, "no-grouping", false, "")
	cmd.Flags().Float64Var(&checkRadius, "grouping-radius", 0, "")
	return cmd
}

func TestCheckManifest(t *testing.T) {
	m, err := loadManifests([]string{writeManifest(t, "model.yaml", beamDuctManifest)})
	require.NoError(t, err)
	assert.Equal(t, []string{"structure.ifc", "mep.ifc"}, m.Files())

	eng, err := engine.New(engine.DefaultOptions())
	require.NoError(t, err)

	var percents []int
	result, err := checkManifest(context.Background(), eng, m, models.DefaultParameters(), func(_ engine.Phase, p int) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ElementsAnalyzed)
	require.Len(t, result.Clashes, 1)
	assert.Equal(t, 1, result.Results.TotalClashes)
	assert.Less(t, result.Clashes[0].Distance, 0.0)
	assert.IsIncreasing(t, percents)

	ids := []string{result.Clashes[0].ElementData.Element1.ID, result.Clashes[0].ElementData.Element2.ID}
	assert.ElementsMatch(t, []string{"beam-1", "duct-1"}, ids)
}

func TestCheckManifestCancelled(t *testing.T) {
	m, err := loadManifests([]string{writeManifest(t, "model.yaml", beamDuctManifest)})
	require.NoError(t, err)
	eng, err := engine.New(engine.DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = checkManifest(ctx, eng, m, models.DefaultParameters(), nil)
	require.Error(t, err)
	assert.Equal(t, engine.KindCancelled, engine.Kind(err))
}

func TestLoadManifestsProjectMismatch(t *testing.T) {
	a := writeManifest(t, "a.yaml", beamDuctManifest)
	b := writeManifest(t, "b.yaml", `project: other
elements:
  - guid: x
    type: 1
    type_name: IfcSlab
    position: {x: 0, y: 0, z: 0}
    dimensions: {x: 1, y: 1, z: 1}
`)
	_, err := loadManifests([]string{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `project "other" differs`)
}

func TestCheckParameters(t *testing.T) {
	m, err := loadManifests([]string{writeManifest(t, "model.yaml", beamDuctManifest+`parameters:
  tolerance: 0.01
  limit_results: 7
`)})
	require.NoError(t, err)

	cmd := newCheckCmd()
	params := checkParameters(cmd, m)
	assert.Equal(t, 0.01, params.Tolerance)
	assert.Equal(t, 7, params.LimitResults)
	assert.True(t, params.Grouping())

	require.NoError(t, cmd.Flags().Parse([]string{"--tolerance", "0", "--type", "753,1095", "--no-grouping"}))
	params = checkParameters(cmd, m)
	assert.Equal(t, 0.0, params.Tolerance)
	assert.Equal(t, []int{753, 1095}, params.Types)
	assert.Equal(t, 7, params.LimitResults)
	assert.False(t, params.Grouping())
}

func TestRunParameters(t *testing.T) {
	p := runParameters(0.02, []int{753}, 50, true, 0.5)
	assert.Equal(t, 0.02, p.Tolerance)
	assert.Equal(t, []int{753}, p.Types)
	assert.Equal(t, 50, p.LimitResults)
	assert.False(t, p.Grouping())
	assert.Equal(t, 0.5, p.GroupingRadius)
	assert.NoError(t, p.Validate())
}

func TestBuildClashUpdate(t *testing.T) {
	update, err := buildClashUpdate("Resolved", "moved duct", "", true, false)
	require.NoError(t, err)
	require.NotNil(t, update.Status)
	assert.Equal(t, models.ClashStatusResolved, *update.Status)
	require.NotNil(t, update.Resolution)
	assert.Equal(t, "moved duct", *update.Resolution)
	assert.Nil(t, update.Snapshot)

	// An explicitly empty note clears the resolution
	update, err = buildClashUpdate("open", "", "", true, false)
	require.NoError(t, err)
	require.NotNil(t, update.Resolution)
	assert.Empty(t, *update.Resolution)

	_, err = buildClashUpdate("done", "", "", false, false)
	assert.Error(t, err)
}

func TestPrintClashTable(t *testing.T) {
	var buf bytes.Buffer
	printClashTable(&buf, []models.Clash{{
		GUID:     "c1",
		Severity: 5,
		Distance: -0.12,
		Status:   models.ClashStatusOpen,
		Category: "structural",
		ElementData: models.ElementPair{
			Element1: models.ElementSnapshot{TypeName: "IfcBeam", Name: "B-101"},
			Element2: models.ElementSnapshot{TypeName: "IfcDuctSegment", Name: "IfcDuctSegment"},
		},
		GroupSize: 3,
	}})
	out := buf.String()
	assert.Contains(t, out, "-120mm")
	assert.Contains(t, out, `IfcBeam "B-101" <> IfcDuctSegment (+2 grouped)`)
}

func TestPrintJob(t *testing.T) {
	started := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)

	var buf bytes.Buffer
	printJob(&buf, &models.ClashDetectionJob{
		GUID:                  "j1",
		Project:               "tower",
		Status:                models.JobStatusCompleted,
		Progress:              100,
		TotalElementsAnalyzed: 42,
		Results:               models.JobResults{TotalClashes: 3, ResolvedClashes: 1},
		StartedAt:             &started,
		CompletedAt:           &completed,
	})
	out := buf.String()
	assert.Contains(t, out, "Duration: 1.5s")
	assert.Contains(t, out, "Total clashes:     3")
	assert.Contains(t, out, "Resolved clashes:  1")

	buf.Reset()
	printJob(&buf, &models.ClashDetectionJob{GUID: "j2", Status: models.JobStatusFailed, Error: "too many pairs", FailureKind: "resource_limit"})
	assert.Contains(t, buf.String(), "Error: too many pairs (resource_limit)")
	assert.NotContains(t, buf.String(), "Results:")
}

func TestFormatDistanceAndTruncate(t *testing.T) {
	assert.Equal(t, "-50mm", formatDistance(-0.05))
	assert.Equal(t, "30mm", formatDistance(0.03))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
}

func TestWatchPlain(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs/{id}/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		status := models.JobStatusCompleted
		if r.PathValue("id") == "bad" {
			status = models.JobStatusFailed
		}
		_ = conn.WriteJSON(server.WatchEvent{Job: &models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusProcessing, Progress: 40}})
		_ = conn.WriteJSON(server.WatchEvent{Job: &models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusProcessing, Progress: 40}})
		_ = conn.WriteJSON(server.WatchEvent{Job: &models.ClashDetectionJob{
			GUID: "j1", Status: status, Progress: 100,
			Results: models.JobResults{TotalClashes: 2}, Error: "boom", FailureKind: "internal",
		}})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := client.New(ts.URL)

	var buf bytes.Buffer
	require.NoError(t, watchPlain(context.Background(), &buf, c, "j1"))
	out := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("[processing] 40%")))
	assert.Contains(t, out, "[completed] 100%")
	assert.Contains(t, out, "Clashes found:     2")

	buf.Reset()
	err := watchPlain(context.Background(), &buf, c, "bad")
	require.Error(t, err)
	assert.Equal(t, "boom (internal)", err.Error())
}

func TestProgressModel(t *testing.T) {
	m := newProgressModel(&models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusPending})

	next, _ := m.Update(jobUpdateMsg{job: models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusProcessing, Progress: 40}})
	m = next.(progressModel)
	assert.Equal(t, 40, m.job.Progress)
	assert.Contains(t, m.renderContent(), "[processing]")

	next, _ = m.Update(watchDoneMsg{job: &models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusFailed, Error: "cancelled"}})
	m = next.(progressModel)
	assert.True(t, m.done)
	require.Error(t, m.err)
	assert.Contains(t, m.renderContent(), "Job failed: cancelled")
}
