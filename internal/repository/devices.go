package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// TouchDevice upserts the device row and refreshes its heartbeat.
// Called for every upload, including deduplicated and skipped ones, so
// a device that keeps failing the quality gate still reads as alive.
func (r *Repository) TouchDevice(ctx context.Context, userID uuid.UUID, deviceUUID, platform string, seenAt time.Time) error {
	query := `
		INSERT INTO devices (id, user_id, device_uuid, platform, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, device_uuid) DO UPDATE SET
			last_seen_at = GREATEST(devices.last_seen_at, EXCLUDED.last_seen_at),
			platform = EXCLUDED.platform
	`

	_, err := r.pool.Exec(ctx, query, uuid.New(), userID, deviceUUID, platform, seenAt)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}

	return nil
}

// LatestDeviceSeen returns the newest heartbeat across all of the
// user's devices. found is false when the user has no device rows.
func (r *Repository) LatestDeviceSeen(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	query := `
		SELECT MAX(last_seen_at)
		FROM devices
		WHERE user_id = $1
	`

	var seenAt *time.Time
	err := r.pool.QueryRow(ctx, query, userID).Scan(&seenAt)
	if err == pgx.ErrNoRows || seenAt == nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query device heartbeat: %w", err)
	}

	return *seenAt, true, nil
}

// GetMemberByToken resolves a device bearer token to the membership
// row. Token issuance is owned by the external auth service; this is
// only the lookup side.
func (r *Repository) GetMemberByToken(ctx context.Context, token string) (*db.Member, error) {
	query := `
		SELECT fm.user_id, fm.family_id, fm.display_name, fm.sharing_enabled, f.subscription_active
		FROM device_tokens dt
		JOIN family_members fm ON fm.user_id = dt.user_id
		JOIN families f ON f.id = fm.family_id
		WHERE dt.token = $1 AND NOT dt.revoked
	`

	var member db.Member
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&member.UserID,
		&member.FamilyID,
		&member.DisplayName,
		&member.SharingEnabled,
		&member.SubscriptionActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member by token: %w", err)
	}

	return &member, nil
}

// GetMember returns the membership/consent row for one user.
func (r *Repository) GetMember(ctx context.Context, userID uuid.UUID) (*db.Member, error) {
	query := `
		SELECT fm.user_id, fm.family_id, fm.display_name, fm.sharing_enabled, f.subscription_active
		FROM family_members fm
		JOIN families f ON f.id = fm.family_id
		WHERE fm.user_id = $1
	`

	var member db.Member
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&member.UserID,
		&member.FamilyID,
		&member.DisplayName,
		&member.SharingEnabled,
		&member.SubscriptionActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}

	return &member, nil
}

// ListFamilyMembers returns every member of the family.
func (r *Repository) ListFamilyMembers(ctx context.Context, familyID uuid.UUID) ([]db.Member, error) {
	query := `
		SELECT fm.user_id, fm.family_id, fm.display_name, fm.sharing_enabled, f.subscription_active
		FROM family_members fm
		JOIN families f ON f.id = fm.family_id
		WHERE fm.family_id = $1
		ORDER BY fm.display_name
	`

	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query family members: %w", err)
	}
	defer rows.Close()

	var members []db.Member
	for rows.Next() {
		var member db.Member
		if err := rows.Scan(
			&member.UserID,
			&member.FamilyID,
			&member.DisplayName,
			&member.SharingEnabled,
			&member.SubscriptionActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan family member: %w", err)
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return members, nil
}

// GetFamilySettings returns the family's pipeline tunables, or nil when
// the family never customized them.
func (r *Repository) GetFamilySettings(ctx context.Context, familyID uuid.UUID) (*db.FamilySettings, error) {
	query := `
		SELECT family_id, accuracy_ceiling_m, dedupe_radius_m, dedupe_window_s,
		       speed_threshold_mps, distance_threshold_m, idle_heartbeat_s,
		       min_fix_interval_s, session_ttl_s
		FROM family_settings
		WHERE family_id = $1
	`

	var settings db.FamilySettings
	err := r.pool.QueryRow(ctx, query, familyID).Scan(
		&settings.FamilyID,
		&settings.AccuracyCeilingM,
		&settings.DedupeRadiusM,
		&settings.DedupeWindowS,
		&settings.SpeedThresholdMPS,
		&settings.DistanceThresholdM,
		&settings.IdleHeartbeatS,
		&settings.MinFixIntervalS,
		&settings.SessionTTLS,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query family settings: %w", err)
	}

	return &settings, nil
}
