package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/config"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/dedupe"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geofence"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/logging"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/motion"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/mq"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/quality"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/ratelimit"
)

// Store is the persistence surface the pipeline writes through.
// Implemented by repository.Repository.
type Store interface {
	GetCurrentLocation(ctx context.Context, userID uuid.UUID) (*db.CurrentLocation, error)
	UpsertCurrentLocation(ctx context.Context, loc *db.CurrentLocation) error
	InsertHistoryPoint(ctx context.Context, hp *db.HistoryPoint) error
	HistoryPointExists(ctx context.Context, userID uuid.UUID, clientEventID string) (bool, error)
	ListActiveGeofences(ctx context.Context, familyID uuid.UUID) ([]db.Geofence, error)
	GetFamilySettings(ctx context.Context, familyID uuid.UUID) (*db.FamilySettings, error)
	TouchDevice(ctx context.Context, userID uuid.UUID, deviceUUID, platform string, seenAt time.Time) error
	GetMember(ctx context.Context, userID uuid.UUID) (*db.Member, error)
	PruneHistory(ctx context.Context, userID uuid.UUID, keepCount int, maxAge time.Duration, now time.Time) (int64, error)
}

// ZoneEngine runs the geofence state machine for one accepted fix.
type ZoneEngine interface {
	Evaluate(ctx context.Context, userID, familyID uuid.UUID, f *fix.Fix, zones []db.Geofence, now time.Time) []geofence.Transition
}

// AlertEngine evaluates alert rules; it never fails the caller.
type AlertEngine interface {
	Process(ctx context.Context, userID, familyID uuid.UUID, f *fix.Fix, transitions []geofence.Transition, now time.Time)
}

// LocationEventPublisher pushes accepted-fix events to the activity
// feed exchange.
type LocationEventPublisher interface {
	PublishLocationEvent(ctx context.Context, event mq.LocationEvent) error
}

// IngestService runs the location-fix ingestion pipeline: validate,
// rate-limit, dedupe, score, classify motion, persist, then geofences
// and alerts. One stateless invocation per fix or batch; all shared
// state lives in the cache and the database.
type IngestService struct {
	store     Store
	cache     kvstore.Store
	parser    *fix.Validator
	gate      *quality.Gate
	limiter   *ratelimit.Limiter
	detector  *dedupe.Detector
	zones     ZoneEngine
	alerts    AlertEngine
	publisher LocationEventPublisher
	validate  *validator.Validate
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestService creates the pipeline orchestrator.
func NewIngestService(
	store Store,
	cache kvstore.Store,
	parser *fix.Validator,
	gate *quality.Gate,
	limiter *ratelimit.Limiter,
	detector *dedupe.Detector,
	zones ZoneEngine,
	alertEngine AlertEngine,
	publisher LocationEventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		cache:     cache,
		parser:    parser,
		gate:      gate,
		limiter:   limiter,
		detector:  detector,
		zones:     zones,
		alerts:    alertEngine,
		publisher: publisher,
		validate:  validator.New(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// effectiveSettings merges the family's stored tunables over the
// service defaults. A missing row or a failed read falls back to
// defaults; settings must never block ingestion.
func (s *IngestService) effectiveSettings(ctx context.Context, familyID uuid.UUID) settings {
	out := settings{
		accuracyCeilingM:   s.cfg.Pipeline.AccuracyCeilingM,
		dedupeRadiusM:      s.cfg.Pipeline.DedupeRadiusM,
		dedupeWindow:       s.cfg.Pipeline.DedupeWindow,
		speedThresholdMPS:  s.cfg.Pipeline.SpeedThresholdMPS,
		distanceThresholdM: s.cfg.Pipeline.DistanceThresholdM,
		idleHeartbeat:      s.cfg.Pipeline.IdleHeartbeat,
		minFixInterval:     s.cfg.Pipeline.MinFixInterval,
	}

	row, err := s.store.GetFamilySettings(ctx, familyID)
	if err != nil {
		s.logger.Warn("failed to load family settings, using defaults",
			zap.Error(err),
			zap.String("family_id", familyID.String()),
		)
		return out
	}
	if row == nil {
		return out
	}

	if row.AccuracyCeilingM > 0 {
		out.accuracyCeilingM = row.AccuracyCeilingM
	}
	if row.DedupeRadiusM > 0 {
		out.dedupeRadiusM = row.DedupeRadiusM
	}
	if row.DedupeWindowS > 0 {
		out.dedupeWindow = time.Duration(row.DedupeWindowS) * time.Second
	}
	if row.SpeedThresholdMPS > 0 {
		out.speedThresholdMPS = row.SpeedThresholdMPS
	}
	if row.DistanceThresholdM > 0 {
		out.distanceThresholdM = row.DistanceThresholdM
	}
	if row.IdleHeartbeatS > 0 {
		out.idleHeartbeat = time.Duration(row.IdleHeartbeatS) * time.Second
	}
	if row.MinFixIntervalS > 0 {
		out.minFixInterval = time.Duration(row.MinFixIntervalS) * time.Second
	}

	return out
}

// gateAuth enforces the hard pre-pipeline rejections.
func gateAuth(auth *AuthContext) *PipelineError {
	if auth == nil || auth.UserID == uuid.Nil {
		return &PipelineError{Code: CodeUnauthorized}
	}
	if !auth.SubscriptionActive {
		return &PipelineError{Code: CodeSubscriptionLocked}
	}
	return nil
}

// ProcessFix runs the single-fix pipeline.
func (s *IngestService) ProcessFix(ctx context.Context, auth *AuthContext, payload map[string]interface{}) (*FixResult, error) {
	if err := gateAuth(auth); err != nil {
		return nil, err
	}

	logger := logging.WithUser(s.logger, auth.UserID.String(), auth.FamilyID.String())

	if !auth.SharingEnabled {
		// Consent off: acknowledge, store nothing.
		return &FixResult{Status: StatusSkipped, Reason: "sharing_disabled"}, nil
	}

	f, fieldErrs := s.parser.Parse(payload)
	if len(fieldErrs) > 0 {
		return nil, &PipelineError{Code: CodeInvalidCoordinates, Fields: fieldErrs}
	}

	cfg := s.effectiveSettings(ctx, auth.FamilyID)

	if f.AccuracyM != nil && *f.AccuracyM > cfg.accuracyCeilingM {
		return nil, &PipelineError{
			Code:    CodeAccuracyTooLow,
			Message: fmt.Sprintf("accuracy %.0fm exceeds ceiling %.0fm", *f.AccuracyM, cfg.accuracyCeilingM),
		}
	}

	// Rate limiting happens before any side effect; a throttled request
	// must leave no trace.
	decision, err := s.limiter.Allow(ctx, auth.UserID.String(), cfg.minFixInterval)
	if err != nil {
		return nil, fmt.Errorf("rate limiter failed: %w", err)
	}
	if !decision.Allowed {
		return nil, &PipelineError{Code: CodeRateLimited, RetryAfter: decision.RetryAfter}
	}

	now := s.now().UTC()
	s.touchDevice(ctx, auth.UserID, &f, now, logger)

	if f.ClientEventID != "" {
		exists, err := s.store.HistoryPointExists(ctx, auth.UserID, f.ClientEventID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if exists {
			return &FixResult{Status: StatusSkipped, AlreadyExists: true}, nil
		}
	}

	dedupeParams := dedupe.Params{RadiusM: cfg.dedupeRadiusM, TimeWindow: cfg.dedupeWindow}
	duplicate, err := s.detector.IsDuplicate(ctx, auth.UserID.String(), f.Lat, f.Lng, f.RecordedAt, dedupeParams)
	if err != nil {
		return nil, fmt.Errorf("dedupe check failed: %w", err)
	}
	if duplicate {
		return &FixResult{Status: StatusDeduplicated}, nil
	}

	prev, err := s.store.GetCurrentLocation(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current location: %w", err)
	}

	motionDecision := s.classifyMotion(ctx, auth.UserID, &f, prev, cfg, now)

	if motionDecision.StoreHistory {
		if err := s.appendHistory(ctx, auth, &f, motionDecision.State, now, cfg.idleHeartbeat); err != nil {
			return nil, err
		}
	}

	promoted := s.promote(ctx, auth, &f, prev, motionDecision.State, now, logger)

	if err := s.detector.Remember(ctx, auth.UserID.String(), f.Lat, f.Lng, f.RecordedAt, dedupeParams); err != nil {
		logger.Warn("failed to update dedupe anchor", zap.Error(err))
	}

	s.runDownstream(ctx, auth, &f, motionDecision.State, promoted, now, logger)

	return &FixResult{
		Status:        StatusStored,
		MotionState:   motionDecision.State,
		StoredHistory: motionDecision.StoreHistory,
		Promoted:      promoted,
	}, nil
}

// ProcessBatch runs the batch pipeline. Items are processed
// sequentially; every accepted fix is written to history individually,
// but only the single highest-scoring fix of the whole batch is
// evaluated for promotion, and only the last accepted fix is evaluated
// against geofences. That caps promotion churn and zone work per batch
// at the cost of intra-batch crossing precision (known gap, kept
// deliberately).
func (s *IngestService) ProcessBatch(ctx context.Context, auth *AuthContext, req *BatchRequest) (*BatchResult, error) {
	if err := gateAuth(auth); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, &PipelineError{Code: CodeInvalidCoordinates, Message: err.Error()}
	}
	if max := s.cfg.Pipeline.MaxBatchSize; max > 0 && len(req.Locations) > max {
		return nil, &PipelineError{
			Code:    CodeInvalidCoordinates,
			Message: fmt.Sprintf("batch of %d exceeds the %d item limit", len(req.Locations), max),
		}
	}

	logger := logging.WithUser(s.logger, auth.UserID.String(), auth.FamilyID.String())

	if !auth.SharingEnabled {
		result := &BatchResult{}
		for i := range req.Locations {
			result.Items = append(result.Items, BatchItemResult{Index: i, Status: StatusSkipped, Reason: "sharing_disabled"})
		}
		return result, nil
	}

	cfg := s.effectiveSettings(ctx, auth.FamilyID)
	now := s.now().UTC()
	dedupeParams := dedupe.Params{RadiusM: cfg.dedupeRadiusM, TimeWindow: cfg.dedupeWindow}

	if err := s.store.TouchDevice(ctx, auth.UserID, req.DeviceUUID, req.Platform, now); err != nil {
		logger.Warn("failed to refresh device heartbeat", zap.Error(err))
	}

	prev, err := s.store.GetCurrentLocation(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read current location: %w", err)
	}

	result := &BatchResult{}
	var accepted []*fix.Fix
	var states []fix.MotionState
	var lastAccepted *fix.Fix
	var lastState fix.MotionState

	for i, payload := range req.Locations {
		item := s.processBatchItem(ctx, auth, payload, i, prev, cfg, dedupeParams, now, logger)
		result.Items = append(result.Items, item.result)
		if item.fix != nil {
			accepted = append(accepted, item.fix)
			states = append(states, item.state)
			lastAccepted = item.fix
			lastState = item.state
		}
	}

	if best := s.gate.BestOfBatch(accepted); best != nil {
		bestState := lastState
		for i := range accepted {
			if accepted[i] == best {
				bestState = states[i]
				break
			}
		}

		// Re-read the row: promotion compares against its state at
		// write time, not at batch start.
		current, err := s.store.GetCurrentLocation(ctx, auth.UserID)
		if err != nil {
			logger.Error("failed to re-read current location for promotion", zap.Error(err))
		} else {
			result.Promoted = s.promote(ctx, auth, best, current, bestState, now, logger)
		}
	}

	if lastAccepted != nil {
		s.runDownstream(ctx, auth, lastAccepted, lastState, result.Promoted, now, logger)

		// Retention piggybacks on batch uploads; they account for
		// nearly all history volume.
		if pruned, err := s.store.PruneHistory(ctx, auth.UserID, s.cfg.Pipeline.HistoryKeepCount, s.cfg.Pipeline.HistoryMaxAge, now); err != nil {
			logger.Warn("failed to prune history", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("pruned history", zap.Int64("rows", pruned))
		}
	}

	return result, nil
}

type batchItem struct {
	result BatchItemResult
	fix    *fix.Fix
	state  fix.MotionState
}

func (s *IngestService) processBatchItem(
	ctx context.Context,
	auth *AuthContext,
	payload map[string]interface{},
	index int,
	prev *db.CurrentLocation,
	cfg settings,
	dedupeParams dedupe.Params,
	now time.Time,
	logger *zap.Logger,
) batchItem {
	f, fieldErrs := s.parser.Parse(payload)
	if len(fieldErrs) > 0 {
		return batchItem{result: BatchItemResult{Index: index, Status: StatusError, Reason: CodeInvalidCoordinates}}
	}

	if f.AccuracyM != nil && *f.AccuracyM > cfg.accuracyCeilingM {
		return batchItem{result: BatchItemResult{Index: index, Status: StatusSkipped, Reason: CodeAccuracyTooLow}}
	}

	if f.ClientEventID != "" {
		exists, err := s.store.HistoryPointExists(ctx, auth.UserID, f.ClientEventID)
		if err != nil {
			logger.Error("idempotency check failed", zap.Error(err), zap.Int("index", index))
			return batchItem{result: BatchItemResult{Index: index, Status: StatusError, Reason: "internal"}}
		}
		if exists {
			return batchItem{result: BatchItemResult{Index: index, Status: StatusSkipped, AlreadyExists: true}}
		}
	}

	duplicate, err := s.detector.IsDuplicate(ctx, auth.UserID.String(), f.Lat, f.Lng, f.RecordedAt, dedupeParams)
	if err != nil {
		logger.Error("dedupe check failed", zap.Error(err), zap.Int("index", index))
		return batchItem{result: BatchItemResult{Index: index, Status: StatusError, Reason: "internal"}}
	}
	if duplicate {
		return batchItem{result: BatchItemResult{Index: index, Status: StatusSkipped, Reason: "duplicate"}}
	}

	motionDecision := s.classifyMotion(ctx, auth.UserID, &f, prev, cfg, now)

	// Batch uploads are buffered trails: every accepted item lands in
	// history regardless of the idle cadence.
	if err := s.appendHistory(ctx, auth, &f, motionDecision.State, now, cfg.idleHeartbeat); err != nil {
		logger.Error("failed to store history point", zap.Error(err), zap.Int("index", index))
		return batchItem{result: BatchItemResult{Index: index, Status: StatusError, Reason: "internal"}}
	}

	if err := s.detector.Remember(ctx, auth.UserID.String(), f.Lat, f.Lng, f.RecordedAt, dedupeParams); err != nil {
		logger.Warn("failed to update dedupe anchor", zap.Error(err))
	}

	return batchItem{
		result: BatchItemResult{Index: index, Status: StatusStored},
		fix:    &f,
		state:  motionDecision.State,
	}
}

// classifyMotion builds a per-family motion gate and evaluates the fix
// against the promoted location and the last stored history timestamp.
func (s *IngestService) classifyMotion(ctx context.Context, userID uuid.UUID, f *fix.Fix, prev *db.CurrentLocation, cfg settings, now time.Time) motion.Decision {
	gate := motion.NewGate(cfg.speedThresholdMPS, cfg.distanceThresholdM, cfg.idleHeartbeat)

	var prevPoint *motion.PreviousPoint
	if prev != nil {
		prevPoint = &motion.PreviousPoint{Lat: prev.Lat, Lng: prev.Lng, RecordedAt: prev.RecordedAt}
	}

	lastStoredAt := time.Time{}
	if raw, ok, err := s.cache.Get(ctx, historyMarkKey(userID)); err == nil && ok {
		if t, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			lastStoredAt = t
		}
	}

	return gate.Evaluate(f, prevPoint, lastStoredAt, now)
}

func (s *IngestService) appendHistory(ctx context.Context, auth *AuthContext, f *fix.Fix, state fix.MotionState, now time.Time, idleHeartbeat time.Duration) error {
	hp := &db.HistoryPoint{
		ID:           uuid.New(),
		UserID:       auth.UserID,
		FamilyID:     auth.FamilyID,
		Lat:          f.Lat,
		Lng:          f.Lng,
		AccuracyM:    f.AccuracyM,
		SpeedMPS:     f.SpeedMPS,
		BearingDeg:   f.BearingDeg,
		AltitudeM:    f.AltitudeM,
		BatteryLevel: f.BatteryLevel,
		MotionState:  string(state),
		RecordedAt:   f.RecordedAt,
		CreatedAt:    now,
		DeviceID:     f.DeviceID,
	}
	if f.ClientEventID != "" {
		id := f.ClientEventID
		hp.ClientEventID = &id
	}

	if err := s.store.InsertHistoryPoint(ctx, hp); err != nil {
		return fmt.Errorf("failed to store history point: %w", err)
	}

	// The heartbeat-floor marker, kept for the family-effective
	// heartbeat; losing it only means one extra history row later.
	if err := s.cache.Set(ctx, historyMarkKey(auth.UserID), now.Format(time.RFC3339Nano), idleHeartbeat); err != nil {
		s.logger.Warn("failed to set history marker", zap.Error(err))
	}

	return nil
}

// promote runs the quality gate and, when it passes, overwrites the
// authoritative row and refreshes the fast-read snapshot.
func (s *IngestService) promote(ctx context.Context, auth *AuthContext, f *fix.Fix, prev *db.CurrentLocation, state fix.MotionState, now time.Time, logger *zap.Logger) bool {
	var qualityPrev *quality.Previous
	if prev != nil {
		qualityPrev = &quality.Previous{
			Lat:        prev.Lat,
			Lng:        prev.Lng,
			AccuracyM:  prev.AccuracyM,
			SpeedMPS:   prev.SpeedMPS,
			RecordedAt: prev.RecordedAt,
			UpdatedAt:  prev.UpdatedAt,
		}
	}

	decision := s.gate.ShouldPromote(f, qualityPrev, now)
	if !decision.Promote {
		logger.Debug("fix not promoted",
			zap.Float64("score", decision.Score),
			zap.String("reason", decision.Reason),
		)
		return false
	}

	loc := &db.CurrentLocation{
		UserID:      auth.UserID,
		FamilyID:    auth.FamilyID,
		Lat:         f.Lat,
		Lng:         f.Lng,
		AccuracyM:   f.AccuracyM,
		SpeedMPS:    f.SpeedMPS,
		MotionState: string(state),
		RecordedAt:  f.RecordedAt,
		UpdatedAt:   now,
		DeviceID:    f.DeviceID,
	}

	if err := s.store.UpsertCurrentLocation(ctx, loc); err != nil {
		logger.Error("failed to upsert current location", zap.Error(err))
		return false
	}

	if body, err := json.Marshal(loc); err == nil {
		if err := s.cache.Set(ctx, snapshotKey(auth.UserID), string(body), s.cfg.Pipeline.SnapshotTTL); err != nil {
			logger.Warn("failed to refresh location snapshot", zap.Error(err))
		}
	}

	return true
}

// runDownstream evaluates geofences and alerts and publishes the
// accepted-fix event. Downstream failure never fails the location
// write: losing an alert is recoverable, losing a fix is not.
func (s *IngestService) runDownstream(ctx context.Context, auth *AuthContext, f *fix.Fix, state fix.MotionState, promoted bool, now time.Time, logger *zap.Logger) {
	zones, err := s.store.ListActiveGeofences(ctx, auth.FamilyID)
	if err != nil {
		logger.Error("failed to load geofences", zap.Error(err))
		zones = nil
	}

	transitions := s.zones.Evaluate(ctx, auth.UserID, auth.FamilyID, f, zones, now)
	s.alerts.Process(ctx, auth.UserID, auth.FamilyID, f, transitions, now)

	event := mq.LocationEvent{
		UserID:      auth.UserID.String(),
		FamilyID:    auth.FamilyID.String(),
		Lat:         f.Lat,
		Lng:         f.Lng,
		MotionState: string(state),
		Promoted:    promoted,
		RecordedAt:  f.RecordedAt.Format(time.RFC3339),
	}
	if err := s.publisher.PublishLocationEvent(ctx, event); err != nil {
		logger.Error("failed to publish location event", zap.Error(err))
	}
}

func (s *IngestService) touchDevice(ctx context.Context, userID uuid.UUID, f *fix.Fix, now time.Time, logger *zap.Logger) {
	deviceUUID := f.DeviceID
	if deviceUUID == "" {
		deviceUUID = "unknown"
	}
	if err := s.store.TouchDevice(ctx, userID, deviceUUID, f.Platform, now); err != nil {
		logger.Warn("failed to refresh device heartbeat", zap.Error(err))
	}
}

func historyMarkKey(userID uuid.UUID) string {
	return "history:lastat:" + userID.String()
}

func snapshotKey(userID uuid.UUID) string {
	return "current:snapshot:" + userID.String()
}
