package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// ListClashes returns the clashes of a job ordered by severity (highest
// first), then distance (deepest first), then guid.
func (c *Client) ListClashes(ctx context.Context, jobGUID string, filter models.ClashFilter) ([]models.Clash, error) {
	defer c.observe(time.Now())

	where := []string{"job = $job"}
	if filter.Status != "" {
		where = append(where, "status = $status")
	}
	if filter.MinSeverity > 0 {
		where = append(where, "severity >= $min_severity")
	}
	limitClause := ""
	if filter.Limit > 0 {
		limitClause = "LIMIT $limit"
	}

	sql := fmt.Sprintf(`
		SELECT * OMIT id FROM clash
		WHERE %s
		ORDER BY severity DESC, distance ASC, guid ASC %s
	`, strings.Join(where, " AND "), limitClause)

	results, err := surrealdb.Query[[]models.Clash](ctx, c.db, sql, map[string]any{
		"job":          jobGUID,
		"status":       string(filter.Status),
		"min_severity": filter.MinSeverity,
		"limit":        filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list clashes: %w", err)
	}

	clashes := rows(results)
	if clashes == nil {
		return []models.Clash{}, nil
	}
	return clashes, nil
}

// GetClash retrieves a clash by guid.
// Returns ErrNotFound if it does not exist.
func (c *Client) GetClash(ctx context.Context, guid string) (*models.Clash, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Clash](ctx, c.db, `
		SELECT * OMIT id FROM type::record("clash", $guid)
	`, map[string]any{"guid": guid})
	if err != nil {
		return nil, fmt.Errorf("get clash: %w", err)
	}

	clashes := rows(results)
	if len(clashes) == 0 {
		return nil, fmt.Errorf("%w: clash %s", ErrNotFound, guid)
	}
	return &clashes[0], nil
}

// UpdateClashReview writes the review fields of a clash: status, resolved_at,
// resolution and snapshot. Detection fields are immutable.
// Returns ErrNotFound if the clash does not exist.
func (c *Client) UpdateClashReview(ctx context.Context, clash models.Clash) error {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]struct {
		GUID string `json:"guid"`
	}](ctx, c.db, `
		UPDATE type::record("clash", $guid) SET
			status = $status,
			resolved_at = IF $resolved_at THEN $resolved_at ELSE NONE END,
			resolution = IF $resolution THEN $resolution ELSE NONE END,
			snapshot = IF $snapshot THEN $snapshot ELSE NONE END
		RETURN guid
	`, map[string]any{
		"guid":        clash.GUID,
		"status":      string(clash.Status),
		"resolved_at": clash.ResolvedAt,
		"resolution":  clash.Resolution,
		"snapshot":    clash.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("update clash: %w", wrapQueryError(err))
	}
	if len(rows(results)) == 0 {
		return fmt.Errorf("%w: clash %s", ErrNotFound, clash.GUID)
	}
	return nil
}

// CountResolved returns the number of resolved clashes of a job.
func (c *Client) CountResolved(ctx context.Context, jobGUID string) (int, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `
		SELECT count() AS count FROM clash
		WHERE job = $job AND status = "resolved"
		GROUP ALL
	`, map[string]any{"job": jobGUID})
	if err != nil {
		return 0, fmt.Errorf("count resolved: %w", err)
	}

	counts := rows(results)
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0].Count, nil
}

// SetResolvedClashes updates the resolved_clashes counter of a job.
// Returns ErrNotFound if the job does not exist.
func (c *Client) SetResolvedClashes(ctx context.Context, jobGUID string, resolved int) error {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]struct {
		GUID string `json:"guid"`
	}](ctx, c.db, `
		UPDATE type::record("clash_job", $guid) SET
			results.resolved_clashes = $resolved
		RETURN guid
	`, map[string]any{"guid": jobGUID, "resolved": resolved})
	if err != nil {
		return fmt.Errorf("set resolved clashes: %w", wrapQueryError(err))
	}
	if len(rows(results)) == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobGUID)
	}
	return nil
}
