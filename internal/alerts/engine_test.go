package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geofence"
)

type fakeRuleStore struct {
	rules   []db.AlertRule
	listErr error
	fired   []uuid.UUID
	markErr error
}

func (s *fakeRuleStore) ListActiveAlertRules(ctx context.Context, familyID uuid.UUID) ([]db.AlertRule, error) {
	return s.rules, s.listErr
}

func (s *fakeRuleStore) MarkRuleFired(ctx context.Context, ruleID, userID uuid.UUID, at time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.fired = append(s.fired, ruleID)
	return nil
}

type fakeEventSink struct {
	events         []db.Event
	lastTransition string
	lastAt         time.Time
	lastFound      bool
}

func (s *fakeEventSink) InsertEvent(ctx context.Context, ev *db.Event) error {
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeEventSink) LatestTransition(ctx context.Context, userID, geofenceID uuid.UUID) (string, time.Time, bool, error) {
	return s.lastTransition, s.lastAt, s.lastFound, nil
}

type fakeNotifier struct {
	sent []Notification
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, notification Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

var alertNow = time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func mustParams(t *testing.T, p Params) []byte {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body
}

func batteryRule(t *testing.T, threshold int) db.AlertRule {
	return db.AlertRule{
		ID:       uuid.New(),
		FamilyID: uuid.New(),
		Kind:     KindBatteryLow,
		Params:   mustParams(t, Params{BatteryThreshold: &threshold}),
		Active:   true,
	}
}

func TestProcessBatteryLowFires(t *testing.T) {
	rules := &fakeRuleStore{rules: []db.AlertRule{batteryRule(t, 20)}}
	sink := &fakeEventSink{}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, sink, notifier, time.Hour, zap.NewNop())

	level := 15
	f := &fix.Fix{Lat: 0, Lng: 0, BatteryLevel: &level, RecordedAt: alertNow}

	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, KindBatteryLow, notifier.sent[0].Kind)
	require.Len(t, sink.events, 1)
	assert.Equal(t, db.EventAlert, sink.events[0].Type)
	assert.Len(t, rules.fired, 1)
}

func TestProcessBatteryAboveThresholdStaysQuiet(t *testing.T) {
	rules := &fakeRuleStore{rules: []db.AlertRule{batteryRule(t, 20)}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	level := 80
	f := &fix.Fix{BatteryLevel: &level, RecordedAt: alertNow}

	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Empty(t, notifier.sent)
}

func TestProcessDebounce(t *testing.T) {
	userID := uuid.New()
	rule := batteryRule(t, 20)
	rule.LastFired = map[string]time.Time{userID.String(): alertNow.Add(-30 * time.Minute)}

	rules := &fakeRuleStore{rules: []db.AlertRule{rule}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	level := 10
	f := &fix.Fix{BatteryLevel: &level, RecordedAt: alertNow}

	// Fired half an hour ago with an hour-long window: stay quiet.
	engine.Process(context.Background(), userID, uuid.New(), f, nil, alertNow)
	assert.Empty(t, notifier.sent)

	// Another family member is debounced independently.
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Len(t, notifier.sent, 1)
}

func TestProcessDebounceElapsed(t *testing.T) {
	userID := uuid.New()
	rule := batteryRule(t, 20)
	rule.LastFired = map[string]time.Time{userID.String(): alertNow.Add(-2 * time.Hour)}

	rules := &fakeRuleStore{rules: []db.AlertRule{rule}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	level := 10
	f := &fix.Fix{BatteryLevel: &level, RecordedAt: alertNow}

	engine.Process(context.Background(), userID, uuid.New(), f, nil, alertNow)
	assert.Len(t, notifier.sent, 1)
}

func TestProcessSpeedOver(t *testing.T) {
	rule := db.AlertRule{
		ID:     uuid.New(),
		Kind:   KindSpeedOver,
		Params: mustParams(t, Params{SpeedLimitMPS: floatPtr(33.0)}),
	}
	rules := &fakeRuleStore{rules: []db.AlertRule{rule}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	f := &fix.Fix{SpeedMPS: floatPtr(40.0), RecordedAt: alertNow}
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, KindSpeedOver, notifier.sent[0].Kind)

	// A speed_over rule without a limit is inert, not an error.
	rules.rules = []db.AlertRule{{ID: uuid.New(), Kind: KindSpeedOver}}
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Len(t, notifier.sent, 1)
}

func TestProcessOutsideSafeZoneOnExit(t *testing.T) {
	zoneID := uuid.New()
	rule := db.AlertRule{
		ID:     uuid.New(),
		Kind:   KindOutsideSafeZone,
		Params: mustParams(t, Params{GeofenceID: &zoneID}),
	}
	rules := &fakeRuleStore{rules: []db.AlertRule{rule}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	transitions := []geofence.Transition{{
		Geofence: db.Geofence{ID: zoneID, Name: "home"},
		Kind:     geofence.TransitionExit,
		At:       alertNow,
	}}

	f := &fix.Fix{Lat: 1, Lng: 1, RecordedAt: alertNow}
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, transitions, alertNow)

	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0].Message, "home")
}

func TestProcessOutsideSafeZoneGracePeriod(t *testing.T) {
	zoneID := uuid.New()
	rule := db.AlertRule{
		ID:     uuid.New(),
		Kind:   KindOutsideSafeZone,
		Params: mustParams(t, Params{GeofenceID: &zoneID, MaxOutsideS: intPtr(600)}),
	}
	rules := &fakeRuleStore{rules: []db.AlertRule{rule}}
	notifier := &fakeNotifier{}

	// Exited five minutes ago with a ten minute grace period.
	sink := &fakeEventSink{
		lastTransition: db.EventGeofenceExit,
		lastAt:         alertNow.Add(-5 * time.Minute),
		lastFound:      true,
	}
	engine := NewEngine(rules, sink, notifier, time.Hour, zap.NewNop())

	f := &fix.Fix{Lat: 1, Lng: 1, RecordedAt: alertNow}
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Empty(t, notifier.sent)

	// Past the grace period the rule fires.
	sink.lastAt = alertNow.Add(-15 * time.Minute)
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Len(t, notifier.sent, 1)
}

func TestProcessNotifierFailureIsSwallowed(t *testing.T) {
	rules := &fakeRuleStore{rules: []db.AlertRule{batteryRule(t, 20)}}
	sink := &fakeEventSink{}
	notifier := &fakeNotifier{err: errors.New("push gateway down")}
	engine := NewEngine(rules, sink, notifier, time.Hour, zap.NewNop())

	level := 10
	f := &fix.Fix{BatteryLevel: &level, RecordedAt: alertNow}

	// Must not panic or propagate; the event and debounce mark still land.
	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Len(t, sink.events, 1)
	assert.Len(t, rules.fired, 1)
}

func TestProcessMalformedRuleSkipped(t *testing.T) {
	bad := db.AlertRule{ID: uuid.New(), Kind: KindBatteryLow, Params: []byte("{broken")}
	good := batteryRule(t, 20)

	rules := &fakeRuleStore{rules: []db.AlertRule{bad, good}}
	notifier := &fakeNotifier{}
	engine := NewEngine(rules, &fakeEventSink{}, notifier, time.Hour, zap.NewNop())

	level := 10
	f := &fix.Fix{BatteryLevel: &level, RecordedAt: alertNow}

	engine.Process(context.Background(), uuid.New(), uuid.New(), f, nil, alertNow)
	assert.Len(t, notifier.sent, 1)
}

func TestParseRuleUnknownKind(t *testing.T) {
	rule, err := ParseRule(&db.AlertRule{ID: uuid.New(), Kind: "teleport_detected"})
	require.NoError(t, err)
	assert.Equal(t, KindGeneric, rule.Kind)
}

func TestRuleDebounceOverride(t *testing.T) {
	rule := &Rule{Params: Params{DebounceS: intPtr(120)}}
	assert.Equal(t, 2*time.Minute, rule.Debounce(time.Hour))

	assert.Equal(t, time.Hour, (&Rule{}).Debounce(time.Hour))
}
