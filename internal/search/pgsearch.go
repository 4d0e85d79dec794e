package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"proin/api/internal/dbx"
)

// PgSearch implements Searcher with ILIKE matching over projects and tasks. It
// is the fallback when Meilisearch is unconfigured or unhealthy.
type PgSearch struct {
	db dbx.DBTX
}

func NewPgSearch(db dbx.DBTX) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	return p.SearchContext(context.Background(), q)
}

func (p *PgSearch) SearchContext(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || len(q.ProjectIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	scope, err := json.Marshal(q.ProjectIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("encode scope: %w", err)
	}
	args := []any{"%" + escapeLike(text) + "%", string(scope)}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, `
			SELECT 'project'::text AS type, p.id, p.project_name AS title, p.description AS snippet,
				p.id AS project_id, ''::text AS status, p.updated_at AS ts
			FROM projects p
			WHERE p.id IN (SELECT jsonb_array_elements_text($2::jsonb))
				AND (p.project_name ILIKE $1 OR p.description ILIKE $1)`)
	}
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, `
			SELECT 'task'::text AS type, t.id, t.name AS title, t.description AS snippet,
				t.project_id, t.status, t.ts
			FROM tasks t
			WHERE t.project_id IN (SELECT jsonb_array_elements_text($2::jsonb))
				AND (t.name ILIKE $1 OR t.description ILIKE $1)`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY ts DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `SELECT id, project_name, description FROM projects`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var r ProjectRecord
		if err := projectRows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		r.ProjectID = r.ID
		projects = append(projects, r)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `SELECT id, project_id, name, description, status FROM tasks`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var r TaskRecord
		if err := taskRows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Description, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, r)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return projects, tasks, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
