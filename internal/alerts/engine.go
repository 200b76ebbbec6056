// Package alerts evaluates family alert rules against accepted fixes
// and geofence transitions. Losing an alert is recoverable, losing a
// position fix is not, so nothing in this package ever propagates an
// error back into the location write path.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geofence"
)

// Notification is the payload handed to the external push pipeline.
type Notification struct {
	FamilyID uuid.UUID `json:"family_id"`
	UserID   uuid.UUID `json:"user_id"`
	RuleID   uuid.UUID `json:"rule_id"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
}

// Notifier delivers a notification. Delivery mechanics are external.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RuleStore is the repository slice the engine reads rules from.
type RuleStore interface {
	ListActiveAlertRules(ctx context.Context, familyID uuid.UUID) ([]db.AlertRule, error)
	MarkRuleFired(ctx context.Context, ruleID uuid.UUID, userID uuid.UUID, at time.Time) error
}

// EventSink appends fired-alert events and reads zone transitions for
// the outside-safe-zone rule.
type EventSink interface {
	InsertEvent(ctx context.Context, ev *db.Event) error
	LatestTransition(ctx context.Context, userID, geofenceID uuid.UUID) (eventType string, at time.Time, found bool, err error)
}

// Engine evaluates rules with per-user debounce.
type Engine struct {
	rules           RuleStore
	events          EventSink
	notifier        Notifier
	defaultDebounce time.Duration
	logger          *zap.Logger
}

// NewEngine creates an alerts engine.
func NewEngine(rules RuleStore, events EventSink, notifier Notifier, defaultDebounce time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		rules:           rules,
		events:          events,
		notifier:        notifier,
		defaultDebounce: defaultDebounce,
		logger:          logger,
	}
}

// Process evaluates every active family rule against the fix and the
// transitions detected for it. It never returns an error: failures are
// logged and treated as "alert not sent".
func (e *Engine) Process(ctx context.Context, userID, familyID uuid.UUID, f *fix.Fix, transitions []geofence.Transition, now time.Time) {
	rows, err := e.rules.ListActiveAlertRules(ctx, familyID)
	if err != nil {
		e.logger.Error("failed to load alert rules", zap.Error(err), zap.String("family_id", familyID.String()))
		return
	}

	for i := range rows {
		rule, err := ParseRule(&rows[i])
		if err != nil {
			e.logger.Warn("skipping malformed alert rule", zap.Error(err))
			continue
		}

		message, matched := e.evaluate(ctx, rule, userID, f, transitions, now)
		if !matched {
			continue
		}

		if !e.debounceElapsed(rule, userID, now) {
			continue
		}

		e.fire(ctx, rule, userID, familyID, f, message, now)
	}
}

func (e *Engine) evaluate(ctx context.Context, rule *Rule, userID uuid.UUID, f *fix.Fix, transitions []geofence.Transition, now time.Time) (string, bool) {
	switch rule.Kind {
	case KindBatteryLow:
		threshold := 20
		if rule.Params.BatteryThreshold != nil {
			threshold = *rule.Params.BatteryThreshold
		}
		if f.BatteryLevel != nil && *f.BatteryLevel <= threshold {
			return fmt.Sprintf("battery at %d%%", *f.BatteryLevel), true
		}

	case KindSpeedOver:
		if rule.Params.SpeedLimitMPS == nil {
			return "", false
		}
		if f.SpeedMPS != nil && *f.SpeedMPS > *rule.Params.SpeedLimitMPS {
			return fmt.Sprintf("speed %.1f m/s over limit %.1f m/s", *f.SpeedMPS, *rule.Params.SpeedLimitMPS), true
		}

	case KindOutsideSafeZone:
		return e.evaluateOutsideSafeZone(ctx, rule, userID, transitions, now)

	case KindGeneric:
		// Open-ended extension point; nothing fires server-side yet.
	}

	return "", false
}

// evaluateOutsideSafeZone matches when the user's last transition for
// the configured zone is an exit older than the allowed window, or when
// this very fix produced that exit and the window is zero.
func (e *Engine) evaluateOutsideSafeZone(ctx context.Context, rule *Rule, userID uuid.UUID, transitions []geofence.Transition, now time.Time) (string, bool) {
	if rule.Params.GeofenceID == nil {
		return "", false
	}

	maxOutside := time.Duration(0)
	if rule.Params.MaxOutsideS != nil {
		maxOutside = time.Duration(*rule.Params.MaxOutsideS) * time.Second
	}

	for _, t := range transitions {
		if t.Geofence.ID == *rule.Params.GeofenceID && t.Kind == geofence.TransitionExit && maxOutside == 0 {
			return fmt.Sprintf("left safe zone %q", t.Geofence.Name), true
		}
	}

	eventType, at, found, err := e.events.LatestTransition(ctx, userID, *rule.Params.GeofenceID)
	if err != nil {
		e.logger.Error("failed to read zone state for safe-zone rule", zap.Error(err))
		return "", false
	}
	if !found || eventType != db.EventGeofenceExit {
		return "", false
	}
	if now.Sub(at) >= maxOutside {
		return fmt.Sprintf("outside safe zone for %s", now.Sub(at).Truncate(time.Second)), true
	}

	return "", false
}

func (e *Engine) debounceElapsed(rule *Rule, userID uuid.UUID, now time.Time) bool {
	last, ok := rule.LastFired[userID.String()]
	if !ok {
		return true
	}
	return now.Sub(last) >= rule.Debounce(e.defaultDebounce)
}

type alertPayload struct {
	RuleID  string `json:"rule_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Engine) fire(ctx context.Context, rule *Rule, userID, familyID uuid.UUID, f *fix.Fix, message string, now time.Time) {
	payload, err := json.Marshal(alertPayload{RuleID: rule.ID.String(), Kind: rule.Kind, Message: message})
	if err != nil {
		e.logger.Error("failed to marshal alert payload", zap.Error(err))
		return
	}

	lat, lng := f.Lat, f.Lng
	event := &db.Event{
		ID:        uuid.New(),
		FamilyID:  familyID,
		UserID:    userID,
		Type:      db.EventAlert,
		Lat:       &lat,
		Lng:       &lng,
		Payload:   payload,
		CreatedAt: now,
	}

	if err := e.events.InsertEvent(ctx, event); err != nil {
		e.logger.Error("failed to append alert event",
			zap.Error(err),
			zap.String("rule_id", rule.ID.String()),
		)
		return
	}

	if err := e.rules.MarkRuleFired(ctx, rule.ID, userID, now); err != nil {
		e.logger.Error("failed to record alert debounce",
			zap.Error(err),
			zap.String("rule_id", rule.ID.String()),
		)
	}

	notification := Notification{
		FamilyID: familyID,
		UserID:   userID,
		RuleID:   rule.ID,
		Kind:     rule.Kind,
		Message:  message,
		FiredAt:  now,
	}
	if err := e.notifier.Notify(ctx, notification); err != nil {
		e.logger.Error("failed to deliver notification",
			zap.Error(err),
			zap.String("rule_id", rule.ID.String()),
		)
	}

	e.logger.Info("alert fired",
		zap.String("rule_id", rule.ID.String()),
		zap.String("kind", rule.Kind),
		zap.String("user_id", userID.String()),
	)
}
