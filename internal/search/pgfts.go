package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true - if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks by ts_rank with updated_at as the tie-break. Without query
// text it degrades to a filtered listing in recency order.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	hasText := strings.TrimSpace(q.Text) != ""

	where := []string{"d.workspace_id = $1", "d.is_deleted = FALSE", "d.show_in_search = TRUE"}
	args := []any{q.WorkspaceID}
	argN := 2

	if hasText {
		where = append(where, fmt.Sprintf("d.fts @@ plainto_tsquery('english', $%d)", argN))
		args = append(args, q.Text)
		argN++
	}
	if q.AuthorID != "" {
		where = append(where, fmt.Sprintf("d.author_id = $%d", argN))
		args = append(args, q.AuthorID)
		argN++
	}
	if len(q.Tags) > 0 {
		encoded, err := json.Marshal(q.Tags)
		if err != nil {
			return nil, 0, fmt.Errorf("pgfts encode tags: %w", err)
		}
		where = append(where, fmt.Sprintf("d.tags @> $%d::jsonb", argN))
		args = append(args, string(encoded))
		argN++
	}

	whereSQL := strings.Join(where, " AND ")

	rankExpr := "0::float4"
	snippetExpr := "LEFT(coalesce(d.content::text, ''), 0)"
	if hasText {
		rankExpr = "ts_rank(d.fts, plainto_tsquery('english', $2))"
		snippetExpr = "ts_headline('english', coalesce(d.content::text, ''), plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30')"
	}

	var total int
	countSQL := "SELECT count(*) FROM documents d WHERE " + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title, %s AS snippet, d.emoji, d.workspace_id, d.author_id, d.tags
		FROM documents d
		WHERE %s
		ORDER BY %s DESC, d.updated_at DESC
		LIMIT %d OFFSET %d`,
		snippetExpr, whereSQL, rankExpr, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rawTags []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Emoji, &r.WorkspaceID, &r.AuthorID, &rawTags); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Tags = []string{}
		_ = json.Unmarshal(rawTags, &r.Tags)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live searchable document for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, content, emoji, author_id, tags, show_in_search,
			EXTRACT(EPOCH FROM updated_at)::bigint
		FROM documents
		WHERE is_deleted = FALSE
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		var content, rawTags []byte
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &content, &d.Emoji, &d.AuthorID, &rawTags, &d.ShowInSearch, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Text = TextFromContent(content)
		d.Tags = []string{}
		_ = json.Unmarshal(rawTags, &d.Tags)
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
