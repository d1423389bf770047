package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultScanLogSize is how many scans the log keeps when no size is set.
const DefaultScanLogSize = 500

// ScanLog keeps a bounded window of recent scans in the scan_log table.
type ScanLog struct {
	db   *sql.DB
	keep int
	now  func() time.Time
}

// NewScanLog creates a scan log that keeps at most keep entries
// (DefaultScanLogSize when keep <= 0).
func NewScanLog(db *sql.DB, keep int) *ScanLog {
	if keep <= 0 {
		keep = DefaultScanLogSize
	}
	return &ScanLog{db: db, keep: keep, now: time.Now}
}

// Append stores a scan and trims the log back to its size.
func (l *ScanLog) Append(ctx context.Context, e ScanEntry) error {
	if e.ScannedAt.IsZero() {
		e.ScannedAt = l.now()
	}

	query := `
		INSERT INTO scan_log (source_id, source_name, data, scanned_at)
		VALUES (?, ?, ?, ?)`

	if _, err := l.db.ExecContext(ctx, query,
		e.SourceID, e.SourceName, e.Data, e.ScannedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return l.Trim(ctx)
}

// Trim deletes everything but the newest entries.
func (l *ScanLog) Trim(ctx context.Context) error {
	query := `
		DELETE FROM scan_log
		WHERE id NOT IN (SELECT id FROM scan_log ORDER BY id DESC LIMIT ?)`
	if _, err := l.db.ExecContext(ctx, query, l.keep); err != nil {
		return fmt.Errorf("trimming scan log: %w", err)
	}
	return nil
}

// Recent returns up to limit scans, newest first.
func (l *ScanLog) Recent(ctx context.Context, limit int) ([]ScanEntry, error) {
	if limit <= 0 || limit > l.keep {
		limit = l.keep
	}

	query := `
		SELECT id, source_id, source_name, data, scanned_at
		FROM scan_log
		ORDER BY id DESC
		LIMIT ?`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scan log: %w", err)
	}
	defer rows.Close()

	entries := make([]ScanEntry, 0, limit)
	for rows.Next() {
		var e ScanEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.SourceName, &e.Data, &ts); err != nil {
			return nil, fmt.Errorf("scanning scan log row: %w", err)
		}
		if e.ScannedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing scanned_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scan log: %w", err)
	}
	return entries, nil
}
