package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pageText = `array_to_string(ARRAY(
	SELECT t #>> '{}' FROM jsonb_path_query(p.content, 'strict $.**.text') AS t
), ' ')`

// buildQuery returns the WHERE clause and its args for q. The tsquery is
// always $1.
func buildQuery(q Query) (string, []any) {
	args := []any{q.Text, q.TenantID, q.DriveIDs}
	where := []string{
		"p.fts @@ plainto_tsquery('simple', $1)",
		"p.trashed_at IS NULL",
		"d.tenant_id = $2",
		"p.drive_id = ANY($3)",
	}
	if q.FilterType != "" {
		args = append(args, q.FilterType)
		where = append(where, fmt.Sprintf("p.type = $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.DriveIDs) == 0 {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	where, args := buildQuery(q)

	var total int
	countSQL := `SELECT count(*) FROM pages p JOIN drives d ON d.id = p.drive_id WHERE ` + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.drive_id, p.type, p.title,
			ts_headline('simple', %s, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet
		FROM pages p
		JOIN drives d ON d.id = p.drive_id
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('simple', $1)) DESC, p.id
		LIMIT %d OFFSET %d`, pageText, where, normalizeLimit(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DriveID, &r.Type, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllPages returns every live page for full reindexing.
func (p *PgFTS) LoadAllPages(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, d.tenant_id, p.drive_id, COALESCE(p.parent_id, ''), p.type, p.title, p.content::text
		FROM pages p
		JOIN drives d ON d.id = p.drive_id
		WHERE p.trashed_at IS NULL
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	pages := make([]PageRecord, 0)
	for rows.Next() {
		var rec PageRecord
		var content string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.DriveID, &rec.ParentID, &rec.Type, &rec.Title, &content); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		rec.Text = PlainText(content)
		pages = append(pages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
