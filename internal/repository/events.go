package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// InsertEvent appends one immutable event row.
func (r *Repository) InsertEvent(ctx context.Context, ev *db.Event) error {
	query := `
		INSERT INTO events (id, family_id, user_id, type, geofence_id, lat, lng, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		ev.ID,
		ev.FamilyID,
		ev.UserID,
		ev.Type,
		ev.GeofenceID,
		ev.Lat,
		ev.Lng,
		ev.Payload,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// LatestTransition returns the most recent geofence enter/exit event
// for the user/zone pair. found is false when no transition was ever
// recorded, which the engine reads as "outside".
func (r *Repository) LatestTransition(ctx context.Context, userID, geofenceID uuid.UUID) (eventType string, at time.Time, found bool, err error) {
	query := `
		SELECT type, created_at
		FROM events
		WHERE user_id = $1 AND geofence_id = $2 AND type IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`

	err = r.pool.QueryRow(ctx, query, userID, geofenceID, db.EventGeofenceEnter, db.EventGeofenceExit).
		Scan(&eventType, &at)
	if err == pgx.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("failed to query latest transition: %w", err)
	}

	return eventType, at, true, nil
}

// ListFamilyEvents returns the family's activity feed, most recent first.
func (r *Repository) ListFamilyEvents(ctx context.Context, familyID uuid.UUID, limit, offset int) ([]db.Event, error) {
	query := `
		SELECT id, family_id, user_id, type, geofence_id, lat, lng, payload, created_at
		FROM events
		WHERE family_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, familyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query family events: %w", err)
	}
	defer rows.Close()

	var events []db.Event
	for rows.Next() {
		var ev db.Event
		if err := rows.Scan(
			&ev.ID,
			&ev.FamilyID,
			&ev.UserID,
			&ev.Type,
			&ev.GeofenceID,
			&ev.Lat,
			&ev.Lng,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}
