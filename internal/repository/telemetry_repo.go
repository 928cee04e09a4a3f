package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"carelinkbridge/internal/models"
)

// TelemetryRepository persists glucose readings and pump events.
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository returns repository.
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// InsertGlucose stores a CGM reading. Re-polled readings hit the
// recorded_at conflict and refresh the sensor state only.
func (r *TelemetryRepository) InsertGlucose(ctx context.Context, entry *models.GlucoseEntry) error {
	const query = `
		INSERT INTO glucose_entries (sg_mgdl, sg_mmol, recorded_at, sensor_state, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (recorded_at) DO UPDATE SET
			sensor_state = EXCLUDED.sensor_state
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		entry.SG,
		entry.SGMMOL,
		entry.RecordedAt,
		entry.SensorState,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// InsertPumpEvent stores a marker or notification. Duplicate events from
// overlapping poll windows are ignored.
func (r *TelemetryRepository) InsertPumpEvent(ctx context.Context, kind string, recordedAt time.Time, payload json.RawMessage) error {
	const query = `
		INSERT INTO pump_events (kind, recorded_at, payload, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, recorded_at) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, kind, recordedAt, payload)
	return err
}

// RecentGlucose returns the last N readings, newest first.
func (r *TelemetryRepository) RecentGlucose(ctx context.Context, limit int) ([]models.GlucoseEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, sg_mgdl, sg_mmol, recorded_at, sensor_state, created_at
		FROM glucose_entries
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.GlucoseEntry
	for rows.Next() {
		var e models.GlucoseEntry
		if err := rows.Scan(
			&e.ID,
			&e.SG,
			&e.SGMMOL,
			&e.RecordedAt,
			&e.SensorState,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
