package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// ErrClashNotFound is returned when a clash guid is unknown.
var ErrClashNotFound = errors.New("clash not found")

// ClashStore is the persistence used by clash review.
type ClashStore interface {
	ListClashes(ctx context.Context, jobGUID string, filter models.ClashFilter) ([]models.Clash, error)
	GetClash(ctx context.Context, guid string) (*models.Clash, error)
	UpdateClashReview(ctx context.Context, clash models.Clash) error
	CountResolved(ctx context.Context, jobGUID string) (int, error)
	SetResolvedClashes(ctx context.Context, jobGUID string, resolved int) error
}

// ReviewService handles human review of clashes once a job has completed.
type ReviewService struct {
	store  ClashStore
	jobs   *JobManager
	logger *slog.Logger
	now    func() time.Time
}

// NewReviewService creates a review service. jobs may be nil; when set, the
// resolved counter of jobs tracked in memory is kept current.
func NewReviewService(store ClashStore, jobs *JobManager, logger *slog.Logger) *ReviewService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		store:  store,
		jobs:   jobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ClashUpdate carries a review change. Nil fields are left unchanged.
type ClashUpdate struct {
	Status     *models.ClashStatus `json:"status,omitempty"`
	Resolution *string             `json:"resolution,omitempty"`
	Snapshot   *string             `json:"snapshot,omitempty"`
}

// ListClashes returns the retained clashes of a job, best ranked first.
func (s *ReviewService) ListClashes(ctx context.Context, jobGUID string, filter models.ClashFilter) ([]models.Clash, error) {
	clashes, err := s.store.ListClashes(ctx, jobGUID, filter)
	if err != nil {
		return nil, engine.Dependency("list clashes", err)
	}
	return clashes, nil
}

// GetClash returns one clash.
func (s *ReviewService) GetClash(ctx context.Context, guid string) (*models.Clash, error) {
	clash, err := s.store.GetClash(ctx, guid)
	if errors.Is(err, db.ErrNotFound) || (err == nil && clash == nil) {
		return nil, fmt.Errorf("%w: %s", ErrClashNotFound, guid)
	}
	if err != nil {
		return nil, engine.Dependency("get clash", err)
	}
	return clash, nil
}

// UpdateClash applies a review change and refreshes the owning job's
// resolved_clashes counter. Moving to resolved stamps ResolvedAt; moving away
// from resolved clears it.
func (s *ReviewService) UpdateClash(ctx context.Context, guid string, update ClashUpdate) (*models.Clash, error) {
	clash, err := s.GetClash(ctx, guid)
	if err != nil {
		return nil, err
	}

	if update.Status != nil {
		status, err := models.ParseClashStatus(string(*update.Status))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrConfiguration, err)
		}
		switch {
		case status == models.ClashStatusResolved && clash.Status != models.ClashStatusResolved:
			now := s.now()
			clash.ResolvedAt = &now
		case status != models.ClashStatusResolved:
			clash.ResolvedAt = nil
		}
		clash.Status = status
	}
	if update.Resolution != nil {
		clash.Resolution = update.Resolution
	}
	if update.Snapshot != nil {
		clash.Snapshot = update.Snapshot
	}

	if err := s.store.UpdateClashReview(ctx, *clash); err != nil {
		return nil, engine.Dependency("update clash", err)
	}

	resolved, err := s.store.CountResolved(ctx, clash.Job)
	if err != nil {
		return nil, engine.Dependency("count resolved clashes", err)
	}
	if err := s.store.SetResolvedClashes(ctx, clash.Job, resolved); err != nil {
		return nil, engine.Dependency("update job results", err)
	}
	if s.jobs != nil {
		s.jobs.setResolved(clash.Job, resolved)
	}

	s.logger.Info("clash reviewed", "clash_id", guid, "job_id", clash.Job, "status", clash.Status, "resolved", resolved)
	return clash, nil
}
