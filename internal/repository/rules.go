package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// ListActiveAlertRules returns the family's active alert rules with
// their per-user debounce maps.
func (r *Repository) ListActiveAlertRules(ctx context.Context, familyID uuid.UUID) ([]db.AlertRule, error) {
	query := `
		SELECT id, family_id, kind, params, last_fired, active
		FROM alert_rules
		WHERE family_id = $1 AND active
	`

	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []db.AlertRule
	for rows.Next() {
		var rule db.AlertRule
		var lastFiredRaw []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.FamilyID,
			&rule.Kind,
			&rule.Params,
			&lastFiredRaw,
			&rule.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}

		rule.LastFired = make(map[string]time.Time)
		if len(lastFiredRaw) > 0 {
			if err := json.Unmarshal(lastFiredRaw, &rule.LastFired); err != nil {
				return nil, fmt.Errorf("failed to decode last_fired of rule %s: %w", rule.ID, err)
			}
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// MarkRuleFired records the debounce timestamp for one user on one rule.
func (r *Repository) MarkRuleFired(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID, at time.Time) error {
	query := `
		UPDATE alert_rules
		SET last_fired = COALESCE(last_fired, '{}'::jsonb) || jsonb_build_object($2::text, to_jsonb($3::timestamptz))
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, ruleID, userID.String(), at)
	if err != nil {
		return fmt.Errorf("failed to mark rule fired: %w", err)
	}

	return nil
}
