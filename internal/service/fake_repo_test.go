package service

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// memRepo is an in-memory Repository and ClashStore.
type memRepo struct {
	mu       sync.Mutex
	elements []models.Element
	jobs     map[string]models.ClashDetectionJob
	clashes  map[string]models.Clash
	updates  []models.ClashDetectionJob

	loadErr    error
	persistErr error

	loadStarted chan struct{} // closed on first LoadElements call when set
	loadGate    chan struct{} // LoadElements blocks on it when set
}

func newMemRepo(elements ...models.Element) *memRepo {
	return &memRepo{
		elements: elements,
		jobs:     make(map[string]models.ClashDetectionJob),
		clashes:  make(map[string]models.Clash),
	}
}

func (r *memRepo) LoadElements(_ context.Context, project string, files []string, types []int) ([]models.Element, error) {
	r.mu.Lock()
	started, gate := r.loadStarted, r.loadGate
	r.loadStarted = nil
	r.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	var out []models.Element
	for _, e := range r.elements {
		if e.Project != project {
			continue
		}
		if len(files) > 0 && !slices.Contains(files, e.File) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, db.ErrNotFound
	}
	return out, nil
}

func (r *memRepo) CreateJob(_ context.Context, job models.ClashDetectionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.GUID] = cloneJob(job)
	return nil
}

func (r *memRepo) UpdateJob(_ context.Context, job models.ClashDetectionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.GUID] = cloneJob(job)
	r.updates = append(r.updates, cloneJob(job))
	return nil
}

func (r *memRepo) PersistResults(_ context.Context, job models.ClashDetectionJob, clashes []models.Clash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persistErr != nil {
		return r.persistErr
	}
	r.jobs[job.GUID] = cloneJob(job)
	for _, c := range clashes {
		r.clashes[c.GUID] = c
	}
	return nil
}

func (r *memRepo) FailJob(_ context.Context, job models.ClashDetectionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.GUID] = cloneJob(job)
	return nil
}

func (r *memRepo) GetJob(_ context.Context, guid string) (*models.ClashDetectionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[guid]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &job, nil
}

func (r *memRepo) ListJobs(_ context.Context, project string, limit int) ([]models.ClashDetectionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ClashDetectionJob
	for _, j := range r.jobs {
		if project == "" || j.Project == project {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b models.ClashDetectionJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) IncompleteJobs(_ context.Context) ([]models.ClashDetectionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ClashDetectionJob
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *memRepo) ListClashes(_ context.Context, jobGUID string, filter models.ClashFilter) ([]models.Clash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Clash
	for _, c := range r.clashes {
		if c.Job != jobGUID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if c.Severity < filter.MinSeverity {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Clash) int {
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		return cmp.Compare(a.Distance, b.Distance)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRepo) GetClash(_ context.Context, guid string) (*models.Clash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clashes[guid]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &c, nil
}

func (r *memRepo) UpdateClashReview(_ context.Context, clash models.Clash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clashes[clash.GUID]; !ok {
		return db.ErrNotFound
	}
	r.clashes[clash.GUID] = clash
	return nil
}

func (r *memRepo) CountResolved(_ context.Context, jobGUID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.clashes {
		if c.Job == jobGUID && c.Status == models.ClashStatusResolved {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SetResolvedClashes(_ context.Context, jobGUID string, resolved int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobGUID]
	if !ok {
		return db.ErrNotFound
	}
	job.Results.ResolvedClashes = resolved
	r.jobs[jobGUID] = job
	return nil
}

func (r *memRepo) storedJob(guid string) models.ClashDetectionJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[guid]
}

func (r *memRepo) clashCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clashes)
}

func (r *memRepo) progressUpdates() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, u := range r.updates {
		out = append(out, u.Progress)
	}
	return out
}
