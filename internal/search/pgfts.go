package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the fields table with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the service is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)

	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.label,
			ts_headline('english', f.plain_text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			f.word_count,
			count(*) OVER () AS total
		FROM fields f
		WHERE f.fts @@ plainto_tsquery('english', $1) AND f.word_count >= $2
		ORDER BY ts_rank(f.fts, plainto_tsquery('english', $1)) DESC, f.updated_at DESC
		LIMIT $3 OFFSET $4
	`, q.Text, q.MinWordCount, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Label, &r.Snippet, &r.WordCount, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords returns every field for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FieldRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, label, plain_text, word_count, updated_at
		FROM fields
	`)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	defer rows.Close()

	records := make([]FieldRecord, 0)
	for rows.Next() {
		var r FieldRecord
		var updated sql.NullTime
		if err := rows.Scan(&r.ID, &r.Label, &r.PlainText, &r.WordCount, &updated); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		if updated.Valid {
			r.UpdatedAt = updated.Time.Unix()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return records, nil
}
