package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
)

// ListActiveGeofences returns every active zone of the family. The
// pipeline never writes geofences; the admin CRUD surface owns them.
func (r *Repository) ListActiveGeofences(ctx context.Context, familyID uuid.UUID) ([]db.Geofence, error) {
	query := `
		SELECT id, family_id, name, shape, center_lat, center_lng, radius_m, polygon_points, active
		FROM geofences
		WHERE family_id = $1 AND active
	`

	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofences: %w", err)
	}
	defer rows.Close()

	var zones []db.Geofence
	for rows.Next() {
		var zone db.Geofence
		var polygonRaw []byte
		if err := rows.Scan(
			&zone.ID,
			&zone.FamilyID,
			&zone.Name,
			&zone.Shape,
			&zone.CenterLat,
			&zone.CenterLng,
			&zone.RadiusM,
			&polygonRaw,
			&zone.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan geofence: %w", err)
		}

		if len(polygonRaw) > 0 {
			var points []geo.Point
			if err := json.Unmarshal(polygonRaw, &points); err != nil {
				return nil, fmt.Errorf("failed to decode polygon of geofence %s: %w", zone.ID, err)
			}
			zone.PolygonPoints = points
		}

		zones = append(zones, zone)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return zones, nil
}
