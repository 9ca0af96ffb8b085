// Package importlog persists the import audit trail: committed batch
// checksums (the duplicate guard), the operations recorded by each
// apply, and the registry of supplier files landing in the S3 inbox.
package importlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/bloomstock/backoffice/internal/invoice"
)

// Store wraps the Postgres tables behind the import pipeline.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ImportRecord is one row of the import history.
type ImportRecord struct {
	Checksum   string     `json:"checksum"`
	Filename   string     `json:"filename"`
	Status     string     `json:"status"`
	Forced     bool       `json:"forced"`
	ApplyCount int        `json:"applyCount"`
	TotalRows  int        `json:"totalRows"`
	ValidRows  int        `json:"validRows"`
	ErrorCount int        `json:"errorCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	AppliedAt  *time.Time `json:"appliedAt,omitempty"`
}

// EnsureSchema applies idempotent schema setup for the import tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS supplier_imports (
			checksum TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'applying',
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			apply_count INTEGER NOT NULL DEFAULT 1,
			total_rows INTEGER NOT NULL DEFAULT 0,
			valid_rows INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			applied_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS import_operations (
			id BIGSERIAL PRIMARY KEY,
			checksum TEXT NOT NULL REFERENCES supplier_imports(checksum),
			entity TEXT NOT NULL,
			op_type TEXT NOT NULL,
			document_id TEXT NOT NULL,
			before JSONB,
			after JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_operations_checksum ON import_operations (checksum)`,
		`CREATE TABLE IF NOT EXISTS inbox_files (
			object_key TEXT PRIMARY KEY,
			file_size BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			row_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("importlog schema: %w", err)
		}
	}
	return nil
}

// ClaimChecksum atomically registers an apply attempt for the checksum.
// The INSERT ... ON CONFLICT DO NOTHING is the claim: exactly one
// caller wins the first apply. A repeat without force is rejected; with
// force the existing record is stamped and the apply proceeds.
func (s *Store) ClaimChecksum(ctx context.Context, checksum, filename string, force bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO supplier_imports (checksum, filename, status)
		 VALUES ($1, $2, 'applying')
		 ON CONFLICT (checksum) DO NOTHING`,
		checksum, filename,
	)
	if err != nil {
		return false, fmt.Errorf("claim checksum: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return true, nil
	}

	if !force {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE supplier_imports
		 SET status = 'applying', forced = TRUE, apply_count = apply_count + 1, filename = $2
		 WHERE checksum = $1`,
		checksum, filename,
	)
	if err != nil {
		return false, fmt.Errorf("claim forced checksum: %w", err)
	}
	return true, nil
}

// RecordResult stores the outcome of a committed apply and appends its
// operations to the audit trail.
func (s *Store) RecordResult(ctx context.Context, checksum string, res *invoice.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE supplier_imports
		 SET status = 'completed', total_rows = $2, valid_rows = $3, error_count = $4, applied_at = NOW()
		 WHERE checksum = $1`,
		checksum, res.Stats.TotalRows, res.Stats.ValidRows, len(res.Errors),
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}

	for _, op := range res.Operations {
		var before, after []byte
		if op.Before != nil {
			before, _ = json.Marshal(op.Before)
		}
		if op.After != nil {
			after, _ = json.Marshal(op.After)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO import_operations (checksum, entity, op_type, document_id, before, after)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			checksum, op.Entity, op.Type, op.DocumentID, nullableJSON(before), nullableJSON(after),
		)
		if err != nil {
			return fmt.Errorf("record operation %s/%s: %w", op.Entity, op.DocumentID, err)
		}
	}

	return tx.Commit()
}

// ListImports returns the import history, newest first. statusFilter is
// optional.
func (s *Store) ListImports(ctx context.Context, limit, offset int, statusFilter string) ([]ImportRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT checksum, filename, status, forced, apply_count, total_rows, valid_rows, error_count, created_at, applied_at
		FROM supplier_imports`
	args := []interface{}{}
	if statusFilter != "" {
		query += ` WHERE status = $1`
		args = append(args, statusFilter)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var records []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var appliedAt sql.NullTime
		if err := rows.Scan(&rec.Checksum, &rec.Filename, &rec.Status, &rec.Forced,
			&rec.ApplyCount, &rec.TotalRows, &rec.ValidRows, &rec.ErrorCount,
			&rec.CreatedAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		if appliedAt.Valid {
			rec.AppliedAt = &appliedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Operations returns the audit operations of one import, in write
// order. A forced re-apply appends a second, independent set.
func (s *Store) Operations(ctx context.Context, checksum string) ([]invoice.UpsertOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, op_type, document_id, before, after
		 FROM import_operations WHERE checksum = $1 ORDER BY id`,
		checksum,
	)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []invoice.UpsertOperation
	for rows.Next() {
		var op invoice.UpsertOperation
		var before, after []byte
		if err := rows.Scan(&op.Entity, &op.Type, &op.DocumentID, &before, &after); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if len(before) > 0 {
			var v map[string]interface{}
			if err := json.Unmarshal(before, &v); err == nil {
				op.Before = v
			}
		}
		if len(after) > 0 {
			var v map[string]interface{}
			if err := json.Unmarshal(after, &v); err == nil {
				op.After = v
			}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Close closes the underlying database handle.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		log.Printf("[importlog] close db: %v", err)
	}
}
