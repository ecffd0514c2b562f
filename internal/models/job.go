// Package models defines the documents exchanged by the clash-detection engine.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Parameter defaults for a detection job.
const (
	DefaultTolerance    = 0.05
	DefaultLimitResults = 100
)

// ErrInvalidParameters is returned by Parameters.Validate.
var ErrInvalidParameters = errors.New("invalid job parameters")

// JobStatus is the state of a ClashDetectionJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether s may move to next.
// pending -> processing | failed, processing -> completed | failed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Parameters configures a single detection run.
type Parameters struct {
	Tolerance         float64 `json:"tolerance" yaml:"tolerance"`
	Types             []int   `json:"types,omitempty" yaml:"types,omitempty"` // empty = all types
	LimitResults      int     `json:"limit_results" yaml:"limit_results"`
	AutomaticGrouping *bool   `json:"automatic_grouping,omitempty" yaml:"automatic_grouping,omitempty"`
	// GroupingRadius overrides the neighbourhood used to merge clashes.
	// Zero means a multiple of Tolerance chosen by the engine.
	GroupingRadius float64 `json:"grouping_radius,omitempty" yaml:"grouping_radius,omitempty"`
}

// DefaultParameters returns tolerance 0.05, limit 100 and grouping enabled.
func DefaultParameters() Parameters {
	grouping := true
	return Parameters{
		Tolerance:         DefaultTolerance,
		LimitResults:      DefaultLimitResults,
		AutomaticGrouping: &grouping,
	}
}

// WithDefaults fills unset LimitResults and AutomaticGrouping.
// Tolerance is left as given because zero is a legal clearance.
func (p Parameters) WithDefaults() Parameters {
	if p.LimitResults == 0 {
		p.LimitResults = DefaultLimitResults
	}
	if p.AutomaticGrouping == nil {
		grouping := true
		p.AutomaticGrouping = &grouping
	}
	return p
}

// Grouping reports whether automatic grouping is enabled (default true).
func (p Parameters) Grouping() bool {
	return p.AutomaticGrouping == nil || *p.AutomaticGrouping
}

// Validate checks the parameters after defaults have been applied.
func (p Parameters) Validate() error {
	if math.IsNaN(p.Tolerance) || math.IsInf(p.Tolerance, 0) || p.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be a non-negative number, got %v", ErrInvalidParameters, p.Tolerance)
	}
	if p.LimitResults <= 0 {
		return fmt.Errorf("%w: limit_results must be positive, got %d", ErrInvalidParameters, p.LimitResults)
	}
	if math.IsNaN(p.GroupingRadius) || math.IsInf(p.GroupingRadius, 0) || p.GroupingRadius < 0 {
		return fmt.Errorf("%w: grouping_radius must be a non-negative number, got %v", ErrInvalidParameters, p.GroupingRadius)
	}
	return nil
}

// AllowsType reports whether an element type passes the types allow-list.
func (p Parameters) AllowsType(t int) bool {
	if len(p.Types) == 0 {
		return true
	}
	for _, allowed := range p.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// JobResults holds the clash counters of a job.
type JobResults struct {
	TotalClashes    int `json:"total_clashes"`
	ResolvedClashes int `json:"resolved_clashes"`
}

// ClashDetectionJob is one detection run over a project's files.
type ClashDetectionJob struct {
	GUID                  string     `json:"guid"`
	Project               string     `json:"project"`
	Files                 []string   `json:"files"`
	Parameters            Parameters `json:"parameters"`
	Status                JobStatus  `json:"status"`
	Progress              int        `json:"progress"`
	TotalElementsAnalyzed int        `json:"total_elements_analyzed"`
	Results               JobResults `json:"results"`
	Error                 string     `json:"error,omitempty"`
	FailureKind           string     `json:"failure_kind,omitempty"`
	CreatedBy             string     `json:"created_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}
