package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// Repository handles database operations for the location pipeline
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCurrentLocation returns the user's promoted location, or nil when
// the user has never had a fix promoted.
func (r *Repository) GetCurrentLocation(ctx context.Context, userID uuid.UUID) (*db.CurrentLocation, error) {
	query := `
		SELECT user_id, family_id, lat, lng, accuracy_m, speed_mps, motion_state,
		       recorded_at, updated_at, device_id
		FROM current_locations
		WHERE user_id = $1
	`

	var loc db.CurrentLocation
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&loc.UserID,
		&loc.FamilyID,
		&loc.Lat,
		&loc.Lng,
		&loc.AccuracyM,
		&loc.SpeedMPS,
		&loc.MotionState,
		&loc.RecordedAt,
		&loc.UpdatedAt,
		&loc.DeviceID,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current location: %w", err)
	}

	return &loc, nil
}

// UpsertCurrentLocation overwrites the user's authoritative location
// row. Last-writer-wins at the row level; the quality gate pre-filters
// writers so "last" means last-promoted.
func (r *Repository) UpsertCurrentLocation(ctx context.Context, loc *db.CurrentLocation) error {
	query := `
		INSERT INTO current_locations (
			user_id, family_id, lat, lng, accuracy_m, speed_mps, motion_state,
			recorded_at, updated_at, device_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			family_id = EXCLUDED.family_id,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			accuracy_m = EXCLUDED.accuracy_m,
			speed_mps = EXCLUDED.speed_mps,
			motion_state = EXCLUDED.motion_state,
			recorded_at = EXCLUDED.recorded_at,
			updated_at = EXCLUDED.updated_at,
			device_id = EXCLUDED.device_id
	`

	_, err := r.pool.Exec(ctx, query,
		loc.UserID,
		loc.FamilyID,
		loc.Lat,
		loc.Lng,
		loc.AccuracyM,
		loc.SpeedMPS,
		loc.MotionState,
		loc.RecordedAt,
		loc.UpdatedAt,
		loc.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert current location: %w", err)
	}

	return nil
}

// ListFamilyCurrentLocations returns the promoted location of every
// family member who currently consents to sharing.
func (r *Repository) ListFamilyCurrentLocations(ctx context.Context, familyID uuid.UUID) ([]db.CurrentLocation, error) {
	query := `
		SELECT cl.user_id, cl.family_id, cl.lat, cl.lng, cl.accuracy_m, cl.speed_mps,
		       cl.motion_state, cl.recorded_at, cl.updated_at, cl.device_id
		FROM current_locations cl
		JOIN family_members fm ON fm.user_id = cl.user_id AND fm.family_id = cl.family_id
		WHERE cl.family_id = $1 AND fm.sharing_enabled
		ORDER BY cl.updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query family locations: %w", err)
	}
	defer rows.Close()

	var locations []db.CurrentLocation
	for rows.Next() {
		var loc db.CurrentLocation
		if err := rows.Scan(
			&loc.UserID,
			&loc.FamilyID,
			&loc.Lat,
			&loc.Lng,
			&loc.AccuracyM,
			&loc.SpeedMPS,
			&loc.MotionState,
			&loc.RecordedAt,
			&loc.UpdatedAt,
			&loc.DeviceID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan current location: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return locations, nil
}

// InsertHistoryPoint appends one immutable trail row.
func (r *Repository) InsertHistoryPoint(ctx context.Context, hp *db.HistoryPoint) error {
	query := `
		INSERT INTO location_history (
			id, user_id, family_id, lat, lng, accuracy_m, speed_mps, bearing_deg,
			altitude_m, battery_level, motion_state, recorded_at, created_at,
			device_id, client_event_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		hp.ID,
		hp.UserID,
		hp.FamilyID,
		hp.Lat,
		hp.Lng,
		hp.AccuracyM,
		hp.SpeedMPS,
		hp.BearingDeg,
		hp.AltitudeM,
		hp.BatteryLevel,
		hp.MotionState,
		hp.RecordedAt,
		hp.CreatedAt,
		hp.DeviceID,
		hp.ClientEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history point: %w", err)
	}

	return nil
}

// HistoryPointExists reports whether the user already uploaded a point
// with this client event id (safe retry of a flaky upload).
func (r *Repository) HistoryPointExists(ctx context.Context, userID uuid.UUID, clientEventID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM location_history
			WHERE user_id = $1 AND client_event_id = $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, clientEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check client event id: %w", err)
	}

	return exists, nil
}

// ListHistory returns one member's trail within a time range,
// paginated, most recent first.
func (r *Repository) ListHistory(ctx context.Context, userID uuid.UUID, from, to time.Time, limit, offset int) ([]db.HistoryPoint, error) {
	query := `
		SELECT id, user_id, family_id, lat, lng, accuracy_m, speed_mps, bearing_deg,
		       altitude_m, battery_level, motion_state, recorded_at, created_at,
		       device_id, client_event_id
		FROM location_history
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.pool.Query(ctx, query, userID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []db.HistoryPoint
	for rows.Next() {
		var hp db.HistoryPoint
		if err := rows.Scan(
			&hp.ID,
			&hp.UserID,
			&hp.FamilyID,
			&hp.Lat,
			&hp.Lng,
			&hp.AccuracyM,
			&hp.SpeedMPS,
			&hp.BearingDeg,
			&hp.AltitudeM,
			&hp.BatteryLevel,
			&hp.MotionState,
			&hp.RecordedAt,
			&hp.CreatedAt,
			&hp.DeviceID,
			&hp.ClientEventID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, hp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return points, nil
}

// PruneHistory deletes trail rows older than maxAge, keeping at least
// keepCount newest rows per user. Piggybacks on batch uploads, which
// account for nearly all history volume.
func (r *Repository) PruneHistory(ctx context.Context, userID uuid.UUID, keepCount int, maxAge time.Duration, now time.Time) (int64, error) {
	query := `
		DELETE FROM location_history
		WHERE user_id = $1
		  AND recorded_at < $2
		  AND id NOT IN (
			SELECT id FROM location_history
			WHERE user_id = $1
			ORDER BY recorded_at DESC
			LIMIT $3
		  )
	`

	cutoff := now.Add(-maxAge)
	tag, err := r.pool.Exec(ctx, query, userID, cutoff, keepCount)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	return tag.RowsAffected(), nil
}
