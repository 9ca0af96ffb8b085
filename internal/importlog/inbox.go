package importlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InboxFile is one supplier spreadsheet discovered in the S3 drop
// bucket.
type InboxFile struct {
	ObjectKey    string     `json:"objectKey"`
	FileSize     int64      `json:"fileSize"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retryCount"`
	RowCount     int        `json:"rowCount"`
	ErrorCount   int        `json:"errorCount"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

// RegisterInboxFile inserts a newly discovered object as pending.
// Already-known keys are skipped; returns whether the key was new.
func (s *Store) RegisterInboxFile(ctx context.Context, key string, size int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox_files (object_key, file_size, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (object_key) DO NOTHING`,
		key, size,
	)
	if err != nil {
		return false, fmt.Errorf("register inbox file: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// PendingInboxFiles returns pending keys, smallest files first.
func (s *Store) PendingInboxFiles(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_key FROM inbox_files
		 WHERE status = 'pending'
		 ORDER BY file_size ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query inbox queue: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err == nil {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

// ClaimInboxFile atomically moves a pending file to processing. Returns
// false if another worker grabbed it first.
func (s *Store) ClaimInboxFile(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbox_files
		 SET status = 'processing', retry_count = retry_count + 1
		 WHERE object_key = $1 AND status = 'pending'`,
		key,
	)
	if err != nil {
		return false, fmt.Errorf("claim inbox file: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// CompleteInboxFile marks a processed file with its preview row counts.
func (s *Store) CompleteInboxFile(ctx context.Context, key string, rowCount, errorCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbox_files
		 SET status = 'previewed', row_count = $2, error_count = $3, processed_at = NOW()
		 WHERE object_key = $1`,
		key, rowCount, errorCount,
	)
	if err != nil {
		return fmt.Errorf("complete inbox file: %w", err)
	}
	return nil
}

// FailInboxFile records a processing failure.
func (s *Store) FailInboxFile(ctx context.Context, key, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbox_files SET status = 'failed', error_message = $2 WHERE object_key = $1`,
		key, message,
	)
	if err != nil {
		return fmt.Errorf("fail inbox file: %w", err)
	}
	return nil
}

// ResumeStuckInbox resets files left in processing by a prior crash
// back to pending, failing those past the retry cap.
func (s *Store) ResumeStuckInbox(ctx context.Context, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE inbox_files SET status = 'pending'
		 WHERE status = 'processing' AND retry_count < $1`, maxRetries); err != nil {
		return fmt.Errorf("resume stuck inbox: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE inbox_files SET status = 'failed', error_message = 'max retries exceeded'
		 WHERE status = 'processing' AND retry_count >= $1`, maxRetries); err != nil {
		return fmt.Errorf("fail exhausted inbox: %w", err)
	}
	return nil
}

// ListInbox returns the inbox registry, newest first.
func (s *Store) ListInbox(ctx context.Context, limit int) ([]InboxFile, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_key, file_size, status, retry_count, row_count, error_count,
			COALESCE(error_message, ''), created_at, processed_at
		 FROM inbox_files ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var files []InboxFile
	for rows.Next() {
		var f InboxFile
		var processedAt sql.NullTime
		if err := rows.Scan(&f.ObjectKey, &f.FileSize, &f.Status, &f.RetryCount,
			&f.RowCount, &f.ErrorCount, &f.ErrorMessage, &f.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan inbox file: %w", err)
		}
		if processedAt.Valid {
			f.ProcessedAt = &processedAt.Time
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
