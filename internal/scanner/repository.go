package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository implements Store over the paired_scanner table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Read returns the stored scanner or nil when none is stored.
func (r *SQLiteRepository) Read(ctx context.Context) (*Record, error) {
	query := `
		SELECT name, address, connected, battery_level
		FROM paired_scanner
		WHERE id = 1`

	var rec Record
	var connected int
	err := r.db.QueryRowContext(ctx, query).Scan(&rec.Name, &rec.Address, &connected, &rec.BatteryLevel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying paired scanner: %w", err)
	}
	rec.Connected = connected != 0
	return &rec, nil
}

// Write upserts the single slot.
func (r *SQLiteRepository) Write(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO paired_scanner (id, name, address, connected, battery_level, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			connected = excluded.connected,
			battery_level = excluded.battery_level,
			updated_at = excluded.updated_at`

	connected := 0
	if rec.Connected {
		connected = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.Name, rec.Address, connected, rec.BatteryLevel,
		r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing paired scanner: %w", err)
	}
	return nil
}

// Clear deletes the stored scanner.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM paired_scanner`); err != nil {
		return fmt.Errorf("clearing paired scanner: %w", err)
	}
	return nil
}

// UpdatedAt returns when the slot was last written, or the zero time when
// it is empty.
func (r *SQLiteRepository) UpdatedAt(ctx context.Context) (time.Time, error) {
	var ts string
	err := r.db.QueryRowContext(ctx, `SELECT updated_at FROM paired_scanner WHERE id = 1`).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("querying paired scanner: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}
