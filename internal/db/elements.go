package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// DefaultUpsertBatch is the number of elements written per statement.
const DefaultUpsertBatch = 500

// FileCount represents an imported file with its element count.
type FileCount struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// UpsertElements writes elements in batches of batchSize. Existing records
// with the same project and guid are replaced.
// Returns the number of elements written.
func (c *Client) UpsertElements(ctx context.Context, elements []models.Element, batchSize int) (int, error) {
	defer c.observe(time.Now())
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatch
	}

	sql := `
		FOR $e IN $elements {
			UPSERT type::record("element", [$e.project, $e.guid]) CONTENT $e;
		};
	`

	written := 0
	for start := 0; start < len(elements); start += batchSize {
		end := min(start+batchSize, len(elements))
		batch := elements[start:end]
		if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"elements": batch}); err != nil {
			return written, fmt.Errorf("upsert elements: %w", wrapQueryError(err))
		}
		written += len(batch)
	}
	return written, nil
}

// LoadElements returns the elements of a project, ordered by guid.
// Empty files or types mean no restriction on that field.
// Returns ErrNotFound if nothing matches.
func (c *Client) LoadElements(ctx context.Context, project string, files []string, types []int) ([]models.Element, error) {
	defer c.observe(time.Now())

	fileClause := ""
	if len(files) > 0 {
		fileClause = "AND file IN $files"
	}
	typeClause := ""
	if len(types) > 0 {
		typeClause = "AND type IN $types"
	}

	sql := fmt.Sprintf(`
		SELECT * OMIT id FROM element
		WHERE project = $project %s %s
		ORDER BY guid ASC
	`, fileClause, typeClause)

	results, err := surrealdb.Query[[]models.Element](ctx, c.db, sql, map[string]any{
		"project": project,
		"files":   files,
		"types":   types,
	})
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}

	elements := rows(results)
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: no elements for project %q", ErrNotFound, project)
	}
	return elements, nil
}

// ListFiles returns the imported files of a project with element counts.
func (c *Client) ListFiles(ctx context.Context, project string) ([]FileCount, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]FileCount](ctx, c.db, `
		SELECT file, count() AS count FROM element
		WHERE project = $project
		GROUP BY file ORDER BY file ASC
	`, map[string]any{"project": project})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	files := rows(results)
	if files == nil {
		return []FileCount{}, nil
	}
	return files, nil
}

// DeleteFileElements removes every element imported from file.
// Returns the number of deleted elements.
func (c *Client) DeleteFileElements(ctx context.Context, project, file string) (int, error) {
	defer c.observe(time.Now())

	// RETURN BEFORE returns the deleted records
	results, err := surrealdb.Query[[]models.Element](ctx, c.db, `
		DELETE element WHERE project = $project AND file = $file RETURN BEFORE
	`, map[string]any{"project": project, "file": file})
	if err != nil {
		return 0, fmt.Errorf("delete file elements: %w", err)
	}
	return len(rows(results)), nil
}
