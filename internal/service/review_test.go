package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

func TestReviewUpdateClash(t *testing.T) {
	repo := newMemRepo(exampleElements()...)
	m, _ := newTestManager(t, repo)
	job := submitAndWait(t, m, SubmitRequest{Project: "p1"})
	require.Equal(t, models.JobStatusCompleted, job.Status)

	review := NewReviewService(repo, m, nil)
	ctx := context.Background()

	clashes, err := review.ListClashes(ctx, job.GUID, models.ClashFilter{})
	require.NoError(t, err)
	require.Len(t, clashes, 1)
	guid := clashes[0].GUID

	resolved := models.ClashStatusResolved
	note := "duct rerouted above beam"
	updated, err := review.UpdateClash(ctx, guid, ClashUpdate{Status: &resolved, Resolution: &note})
	require.NoError(t, err)
	assert.Equal(t, models.ClashStatusResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)
	require.NotNil(t, updated.Resolution)
	assert.Equal(t, note, *updated.Resolution)

	assert.Equal(t, 1, repo.storedJob(job.GUID).Results.ResolvedClashes)
	current, err := m.GetJob(ctx, job.GUID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Results.ResolvedClashes)

	open := models.ClashStatusOpen
	reopened, err := review.UpdateClash(ctx, guid, ClashUpdate{Status: &open})
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Equal(t, note, *reopened.Resolution, "resolution note is kept")
	assert.Equal(t, 0, repo.storedJob(job.GUID).Results.ResolvedClashes)

	onlyResolved, err := review.ListClashes(ctx, job.GUID, models.ClashFilter{Status: models.ClashStatusResolved})
	require.NoError(t, err)
	assert.Empty(t, onlyResolved)
}

func TestReviewUpdateClashErrors(t *testing.T) {
	repo := newMemRepo()
	review := NewReviewService(repo, nil, nil)
	ctx := context.Background()

	_, err := review.UpdateClash(ctx, "missing", ClashUpdate{})
	assert.ErrorIs(t, err, ErrClashNotFound)

	repo.clashes["c1"] = models.Clash{GUID: "c1", Job: "j1", Status: models.ClashStatusOpen}
	bogus := models.ClashStatus("ignored")
	_, err = review.UpdateClash(ctx, "c1", ClashUpdate{Status: &bogus})
	assert.ErrorIs(t, err, engine.ErrConfiguration)
}

func TestReviewUpdateClashNormalisesStatus(t *testing.T) {
	repo := newMemRepo()
	repo.jobs["j1"] = models.ClashDetectionJob{GUID: "j1", Status: models.JobStatusCompleted}
	repo.clashes["c1"] = models.Clash{GUID: "c1", Job: "j1", Status: models.ClashStatusOpen}
	review := NewReviewService(repo, nil, nil)
	ctx := context.Background()

	mixed := models.ClashStatus(" Resolved")
	updated, err := review.UpdateClash(ctx, "c1", ClashUpdate{Status: &mixed})
	require.NoError(t, err)
	assert.Equal(t, models.ClashStatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, models.ClashStatusResolved, repo.clashes["c1"].Status)

	resolved, err := repo.CountResolved(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, repo.storedJob("j1").Results.ResolvedClashes)
}
