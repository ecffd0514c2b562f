package server

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// memStore is an in-memory ElementStore, service.Repository and service.ClashStore.
type memStore struct {
	mu       sync.Mutex
	elements map[string]models.Element
	jobs     map[string]models.ClashDetectionJob
	clashes  map[string]models.Clash
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		elements: make(map[string]models.Element),
		jobs:     make(map[string]models.ClashDetectionJob),
		clashes:  make(map[string]models.Clash),
	}
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStore) UpsertElements(_ context.Context, elements []models.Element, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range elements {
		s.elements[e.Project+"/"+e.GUID] = e
	}
	return len(elements), nil
}

func (s *memStore) ListFiles(_ context.Context, project string) ([]db.FileCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.elements {
		if e.Project == project {
			counts[e.File]++
		}
	}
	out := []db.FileCount{}
	for file, n := range counts {
		out = append(out, db.FileCount{File: file, Count: n})
	}
	slices.SortFunc(out, func(a, b db.FileCount) int { return cmp.Compare(a.File, b.File) })
	return out, nil
}

func (s *memStore) DeleteFileElements(_ context.Context, project, file string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.elements {
		if e.Project == project && e.File == file {
			delete(s.elements, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) LoadElements(_ context.Context, project string, files []string, types []int) ([]models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Element
	for _, e := range s.elements {
		if e.Project != project ||
			(len(files) > 0 && !slices.Contains(files, e.File)) ||
			(len(types) > 0 && !slices.Contains(types, e.Type)) {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, db.ErrNotFound
	}
	slices.SortFunc(out, func(a, b models.Element) int { return cmp.Compare(a.GUID, b.GUID) })
	return out, nil
}

func (s *memStore) put(job models.ClashDetectionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.GUID] = job
	return nil
}

func (s *memStore) CreateJob(_ context.Context, job models.ClashDetectionJob) error { return s.put(job) }
func (s *memStore) UpdateJob(_ context.Context, job models.ClashDetectionJob) error { return s.put(job) }
func (s *memStore) FailJob(_ context.Context, job models.ClashDetectionJob) error   { return s.put(job) }

func (s *memStore) PersistResults(_ context.Context, job models.ClashDetectionJob, clashes []models.Clash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.GUID] = job
	for _, c := range clashes {
		s.clashes[c.GUID] = c
	}
	return nil
}

func (s *memStore) GetJob(_ context.Context, guid string) (*models.ClashDetectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[guid]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &job, nil
}

func (s *memStore) ListJobs(_ context.Context, project string, _ int) ([]models.ClashDetectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ClashDetectionJob
	for _, j := range s.jobs {
		if project == "" || j.Project == project {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) IncompleteJobs(context.Context) ([]models.ClashDetectionJob, error) {
	return nil, nil
}

func (s *memStore) ListClashes(_ context.Context, jobGUID string, filter models.ClashFilter) ([]models.Clash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Clash{}
	for _, c := range s.clashes {
		if c.Job == jobGUID && (filter.Status == "" || c.Status == filter.Status) && c.Severity >= filter.MinSeverity {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) GetClash(_ context.Context, guid string) (*models.Clash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clashes[guid]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) UpdateClashReview(_ context.Context, clash models.Clash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clashes[clash.GUID] = clash
	return nil
}

func (s *memStore) CountResolved(_ context.Context, jobGUID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.clashes {
		if c.Job == jobGUID && c.Status == models.ClashStatusResolved {
			n++
		}
	}
	return n, nil
}

func (s *memStore) SetResolvedClashes(_ context.Context, jobGUID string, resolved int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobGUID]
	job.Results.ResolvedClashes = resolved
	s.jobs[jobGUID] = job
	return nil
}
