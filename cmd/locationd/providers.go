package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/alerts"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/config"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/dedupe"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geofence"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/httpapi"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/mq"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/quality"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/ratelimit"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/repository"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/service"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/session"
)

// ProvideDBPool creates the PostgreSQL connection pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, int32(cfg.Database.MaxConns))
}

// ProvideRepository creates the repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideKVStore picks the shared cache backend: redis when configured,
// otherwise the in-process store (single node only).
func ProvideKVStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (kvstore.Store, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, using in-process cache; do not run multiple replicas")
		return kvstore.NewMemory(), nil
	}
	return kvstore.NewRedis(lc, logger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

// ProvideFixValidator creates the payload normalizer
func ProvideFixValidator() *fix.Validator {
	return fix.NewValidator()
}

// ProvideQualityGate creates the promotion gate
func ProvideQualityGate(cfg *config.Config) *quality.Gate {
	return quality.NewGate(cfg.Pipeline.ScoreTolerance, cfg.Pipeline.FreshnessCeiling, cfg.Pipeline.MaxPlausibleMPS)
}

// ProvideRateLimiter creates the per-user ingestion limiter
func ProvideRateLimiter(store kvstore.Store, cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.NewLimiter(store, cfg.Pipeline.MinFixInterval)
}

// ProvideDedupeDetector creates the duplicate-fix detector
func ProvideDedupeDetector(store kvstore.Store) *dedupe.Detector {
	return dedupe.NewDetector(store)
}

// ProvideMQConnection creates the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the events/alerts publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, cfg.RabbitMQ.AlertsRoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideGeofenceEngine creates the zone state machine
func ProvideGeofenceEngine(repo *repository.Repository, logger *zap.Logger) *geofence.Engine {
	return geofence.NewEngine(repo, logger)
}

// ProvideAlertsEngine creates the alert rule evaluator
func ProvideAlertsEngine(repo *repository.Repository, publisher *mq.Publisher, cfg *config.Config, logger *zap.Logger) *alerts.Engine {
	return alerts.NewEngine(repo, repo, publisher, cfg.Alerts.DefaultDebounce, logger)
}

// ProvideSessionGate creates the live-tracking session gate
func ProvideSessionGate(store kvstore.Store, cfg *config.Config) *session.Gate {
	return session.NewGate(store, cfg.Session.TTL)
}

// ProvideIngestService wires the full ingestion pipeline
func ProvideIngestService(
	repo *repository.Repository,
	cache kvstore.Store,
	parser *fix.Validator,
	gate *quality.Gate,
	limiter *ratelimit.Limiter,
	detector *dedupe.Detector,
	zones *geofence.Engine,
	alertEngine *alerts.Engine,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.IngestService {
	return service.NewIngestService(repo, cache, parser, gate, limiter, detector, zones, alertEngine, publisher, cfg, logger)
}

// ProvidePresenceService creates the read-side service
func ProvidePresenceService(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *service.PresenceService {
	return service.NewPresenceService(repo, cfg, logger)
}

// tokenAuthorizer resolves bearer tokens through the membership tables.
type tokenAuthorizer struct {
	repo *repository.Repository
}

func (a *tokenAuthorizer) AuthorizeToken(ctx context.Context, token string) (*service.AuthContext, error) {
	member, err := a.repo.GetMemberByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, nil
	}
	return &service.AuthContext{
		UserID:             member.UserID,
		FamilyID:           member.FamilyID,
		DisplayName:        member.DisplayName,
		SharingEnabled:     member.SharingEnabled,
		SubscriptionActive: member.SubscriptionActive,
	}, nil
}

// ProvideAuthorizer creates the token authorizer
func ProvideAuthorizer(repo *repository.Repository) httpapi.Authorizer {
	return &tokenAuthorizer{repo: repo}
}

// ProvideHTTPServer creates the HTTP API server
func ProvideHTTPServer(
	ingest *service.IngestService,
	presence *service.PresenceService,
	sessions *session.Gate,
	auth httpapi.Authorizer,
	repo *repository.Repository,
	logger *zap.Logger,
) *httpapi.Server {
	return httpapi.NewServer(ingest, presence, sessions, auth, repo, repo, logger)
}

// startServer ties the HTTP listener to the fx lifecycle
func startServer(lc fx.Lifecycle, server *httpapi.Server, cfg *config.Config) {
	server.Run(lc, cfg.ServicePort)
}

// startConsumer starts the batch-upload queue consumer
func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingest *service.IngestService,
) (*mq.Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: ingest.ProcessBatchMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting batch consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("batch consumer stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}
