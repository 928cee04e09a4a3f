package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UploadLedger tracks which source records were uploaded to Nightscout.
type UploadLedger struct {
	db *sql.DB
}

// NewUploadLedger returns ledger repository.
func NewUploadLedger(db *sql.DB) *UploadLedger {
	return &UploadLedger{db: db}
}

// Uploaded reports which of the given record keys are already in the ledger.
func (l *UploadLedger) Uploaded(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = key
	}

	query := fmt.Sprintf(
		`SELECT record_key FROM upload_ledger WHERE record_key IN (%s)`,
		strings.Join(placeholders, ", "),
	)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		result[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded records a successful upload. Replays are harmless.
func (l *UploadLedger) MarkUploaded(ctx context.Context, key string, at time.Time) error {
	const query = `
		INSERT INTO upload_ledger (record_key, uploaded_at)
		VALUES ($1, $2)
		ON CONFLICT (record_key) DO NOTHING
	`
	_, err := l.db.ExecContext(ctx, query, key, at)
	return err
}
