// Package httpapi is the ingestion and read surface of the location
// pipeline. The handlers are thin: authentication resolves a membership
// context, then everything is delegated to the services.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/service"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/session"
)

// Authorizer resolves a device bearer token to a membership context.
// Token issuance and session establishment are external.
type Authorizer interface {
	AuthorizeToken(ctx context.Context, token string) (*service.AuthContext, error)
}

// MemberDirectory answers whether a target user belongs to a family.
type MemberDirectory interface {
	GetMember(ctx context.Context, userID uuid.UUID) (*db.Member, error)
}

// SettingsDirectory reads the family tunables consulted outside the
// ingestion pipeline, currently only the session TTL.
type SettingsDirectory interface {
	GetFamilySettings(ctx context.Context, familyID uuid.UUID) (*db.FamilySettings, error)
}

// Server carries the wired collaborators for the HTTP surface.
type Server struct {
	ingest   *service.IngestService
	presence *service.PresenceService
	sessions *session.Gate
	auth     Authorizer
	members  MemberDirectory
	settings SettingsDirectory
	logger   *zap.Logger
}

// NewServer creates the HTTP API server.
func NewServer(
	ingest *service.IngestService,
	presence *service.PresenceService,
	sessions *session.Gate,
	auth Authorizer,
	members MemberDirectory,
	settings SettingsDirectory,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingest:   ingest,
		presence: presence,
		sessions: sessions,
		auth:     auth,
		members:  members,
		settings: settings,
		logger:   logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/locations", s.handleIngestFix)
		r.Post("/locations/batch", s.handleIngestBatch)

		r.Get("/families/{familyID}/locations", s.handleFamilyPresence)
		r.Get("/families/{familyID}/events", s.handleActivityFeed)
		r.Get("/users/{userID}/history", s.handleHistory)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleSessionStart)
			r.Post("/keepalive", s.handleSessionKeepalive)
			r.Get("/", s.handleSessionGet)
			r.Delete("/", s.handleSessionStop)
		})
	})

	return r
}

// Run starts the HTTP listener and ties it to the fx lifecycle.
func (s *Server) Run(lc fx.Lifecycle, port int) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Info("starting http server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping http server")
			return srv.Shutdown(ctx)
		},
	})
}
