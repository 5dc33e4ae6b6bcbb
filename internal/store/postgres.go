package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListFields(ctx context.Context) ([]Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, value, plain_text, word_count, updated_by, created_at, updated_at
		FROM fields
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	items := make([]Field, 0)
	for rows.Next() {
		var item Field
		if err := rows.Scan(&item.ID, &item.Label, &item.Value, &item.PlainText, &item.WordCount, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return items, nil
}

// GetField returns sql.ErrNoRows unwrapped when the field does not exist.
func (s *PostgresStore) GetField(ctx context.Context, fieldID string) (Field, error) {
	var item Field
	err := s.db.QueryRowContext(ctx, `
		SELECT id, label, value, plain_text, word_count, updated_by, created_at, updated_at
		FROM fields
		WHERE id=$1
	`, fieldID).Scan(&item.ID, &item.Label, &item.Value, &item.PlainText, &item.WordCount, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Field{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertField(ctx context.Context, item Field) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fields (id, label, value, plain_text, word_count, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Label, item.Value, item.PlainText, item.WordCount, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert field: %w", err)
	}
	return nil
}

// UpdateFieldValue stores a new value and its derived text. It returns
// sql.ErrNoRows when the field does not exist.
func (s *PostgresStore) UpdateFieldValue(ctx context.Context, fieldID, value, plainText string, wordCount int, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fields
		SET value=$2, plain_text=$3, word_count=$4, updated_by=$5, updated_at=NOW()
		WHERE id=$1
	`, fieldID, value, plainText, wordCount, updatedBy)
	if err != nil {
		return fmt.Errorf("update field value: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update field value: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateFieldLabel(ctx context.Context, fieldID, label string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE fields SET label=$2, updated_at=NOW() WHERE id=$1`, fieldID, label)
	if err != nil {
		return fmt.Errorf("update field label: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteField(ctx context.Context, fieldID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fields WHERE id=$1`, fieldID)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertApply(ctx context.Context, entry Apply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_applies (field_id, session_id, word_count, commit_hash, applied_by)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.FieldID, entry.SessionID, entry.WordCount, entry.CommitHash, entry.AppliedBy)
	if err != nil {
		return fmt.Errorf("insert apply: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListApplies(ctx context.Context, fieldID string, limit int) ([]Apply, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, field_id, session_id, word_count, commit_hash, applied_by, applied_at
		FROM field_applies
		WHERE field_id=$1
		ORDER BY applied_at DESC, id DESC
		LIMIT $2
	`, fieldID, limit)
	if err != nil {
		return nil, fmt.Errorf("list applies: %w", err)
	}
	defer rows.Close()

	items := make([]Apply, 0)
	for rows.Next() {
		var item Apply
		if err := rows.Scan(&item.ID, &item.FieldID, &item.SessionID, &item.WordCount, &item.CommitHash, &item.AppliedBy, &item.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan apply: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applies: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
