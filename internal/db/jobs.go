package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// jobSetClause assigns every mutable clash_job field from the vars built by jobVars.
// Optional fields fall back to NONE when the variable is empty.
const jobSetClause = `
	status = $status,
	progress = $progress,
	total_elements_analyzed = $total_elements_analyzed,
	results = $results,
	error = IF $error THEN $error ELSE NONE END,
	failure_kind = IF $failure_kind THEN $failure_kind ELSE NONE END,
	started_at = IF $started_at THEN $started_at ELSE NONE END,
	completed_at = IF $completed_at THEN $completed_at ELSE NONE END
`

func jobVars(job models.ClashDetectionJob) map[string]any {
	return map[string]any{
		"guid":                    job.GUID,
		"project":                 job.Project,
		"files":                   job.Files,
		"parameters":              job.Parameters,
		"status":                  string(job.Status),
		"progress":                job.Progress,
		"total_elements_analyzed": job.TotalElementsAnalyzed,
		"results":                 job.Results,
		"error":                   job.Error,
		"failure_kind":            job.FailureKind,
		"created_by":              job.CreatedBy,
		"created_at":              job.CreatedAt,
		"started_at":              job.StartedAt,
		"completed_at":            job.CompletedAt,
	}
}

// CreateJob stores a new job record.
// Returns ErrAlreadyExists if a job with the same guid exists.
func (c *Client) CreateJob(ctx context.Context, job models.ClashDetectionJob) error {
	defer c.observe(time.Now())

	sql := `
		CREATE type::record("clash_job", $guid) SET
			guid = $guid,
			project = $project,
			files = $files,
			parameters = $parameters,
			created_by = IF $created_by THEN $created_by ELSE NONE END,
			created_at = $created_at,
	` + jobSetClause

	if _, err := surrealdb.Query[any](ctx, c.db, sql, jobVars(job)); err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJob writes the status, progress, counters and timestamps of a job.
// Terminal jobs are never modified.
func (c *Client) UpdateJob(ctx context.Context, job models.ClashDetectionJob) error {
	defer c.observe(time.Now())

	sql := `
		UPDATE type::record("clash_job", $guid) SET
	` + jobSetClause + `
		WHERE status NOT IN ["completed", "failed"]
	`
	if _, err := surrealdb.Query[any](ctx, c.db, sql, jobVars(job)); err != nil {
		return fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	return nil
}

// FailJob marks a job failed with its error message and failure kind.
// Jobs that already completed are left untouched.
func (c *Client) FailJob(ctx context.Context, job models.ClashDetectionJob) error {
	if job.Status != models.JobStatusFailed {
		return fmt.Errorf("fail job: status is %s", job.Status)
	}
	return c.UpdateJob(ctx, job)
}

// PersistResults stores the completed job and its clashes in one transaction.
// Nothing is written unless the stored job is still processing, in which case
// ErrJobNotProcessing is returned.
func (c *Client) PersistResults(ctx context.Context, job models.ClashDetectionJob, clashes []models.Clash) error {
	defer c.observe(time.Now())

	sql := `
		BEGIN TRANSACTION;
		LET $current = (SELECT VALUE status FROM ONLY type::record("clash_job", $guid));
		IF $current != "processing" {
			THROW "` + thrownJobNotProcessing + `";
		};
		UPDATE type::record("clash_job", $guid) SET
	` + jobSetClause + `;
		FOR $c IN $clashes {
			CREATE type::record("clash", $c.guid) SET
				guid = $c.guid,
				job = $c.job,
				project = $c.project,
				status = $c.status,
				detected_at = $c.detected_at,
				element_data = $c.element_data,
				distance = $c.distance,
				severity = $c.severity,
				category = $c.category,
				group_size = $c.group_size;
		};
		COMMIT TRANSACTION;
	`

	vars := jobVars(job)
	if clashes == nil {
		clashes = []models.Clash{}
	}
	vars["clashes"] = clashes

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("persist results: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob retrieves a job by guid.
// Returns ErrNotFound if it does not exist.
func (c *Client) GetJob(ctx context.Context, guid string) (*models.ClashDetectionJob, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.ClashDetectionJob](ctx, c.db, `
		SELECT * OMIT id FROM type::record("clash_job", $guid)
	`, map[string]any{"guid": guid})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	jobs := rows(results)
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, guid)
	}
	return &jobs[0], nil
}

// ListJobs returns jobs newest first. An empty project lists all projects;
// limit <= 0 means no limit.
func (c *Client) ListJobs(ctx context.Context, project string, limit int) ([]models.ClashDetectionJob, error) {
	defer c.observe(time.Now())

	projectClause := ""
	if project != "" {
		projectClause = "WHERE project = $project"
	}
	limitClause := ""
	if limit > 0 {
		limitClause = "LIMIT $limit"
	}
	sql := fmt.Sprintf(`
		SELECT * OMIT id FROM clash_job %s
		ORDER BY created_at DESC, guid ASC %s
	`, projectClause, limitClause)

	results, err := surrealdb.Query[[]models.ClashDetectionJob](ctx, c.db, sql, map[string]any{
		"project": project,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := rows(results)
	if jobs == nil {
		return []models.ClashDetectionJob{}, nil
	}
	return jobs, nil
}

// IncompleteJobs returns jobs still pending or processing.
func (c *Client) IncompleteJobs(ctx context.Context) ([]models.ClashDetectionJob, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.ClashDetectionJob](ctx, c.db, `
		SELECT * OMIT id FROM clash_job
		WHERE status IN ["pending", "processing"]
		ORDER BY created_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("incomplete jobs: %w", err)
	}
	return rows(results), nil
}
