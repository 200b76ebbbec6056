package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/service"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/session"
)

type contextKey string

const authContextKey contextKey = "authContext"

// authenticate resolves the bearer token into a membership context.
// Unauthenticated requests never reach any pipeline stage.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			render.Render(w, r, httpErrUnauthorized())
			return
		}

		auth, err := s.auth.AuthorizeToken(r.Context(), token)
		if err != nil {
			s.logger.Error("token authorization failed", zap.Error(err))
			render.Render(w, r, httpErrUnexpected(err))
			return
		}
		if auth == nil {
			render.Render(w, r, httpErrUnauthorized())
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) *service.AuthContext {
	auth, _ := ctx.Value(authContextKey).(*service.AuthContext)
	return auth
}

func (s *Server) handleIngestFix(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		render.Render(w, r, httpErrInvalidRequest(err))
		return
	}

	result, err := s.ingest.ProcessFix(r.Context(), auth, payload)
	if err != nil {
		render.Render(w, r, httpErrPipeline(err))
		return
	}

	respondData(w, r, result)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	var req service.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Render(w, r, httpErrInvalidRequest(err))
		return
	}

	result, err := s.ingest.ProcessBatch(r.Context(), auth, &req)
	if err != nil {
		render.Render(w, r, httpErrPipeline(err))
		return
	}

	respondData(w, r, result)
}

type presenceEntry struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	State       string            `json:"state"`
	Location    *presenceLocation `json:"location,omitempty"`
}

type presenceLocation struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	AccuracyM   *float64  `json:"accuracy_m,omitempty"`
	SpeedMPS    *float64  `json:"speed_mps,omitempty"`
	MotionState string    `json:"motion_state"`
	RecordedAt  time.Time `json:"recorded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) handleFamilyPresence(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	familyID, err := uuid.Parse(chi.URLParam(r, "familyID"))
	if err != nil || familyID != auth.FamilyID {
		// Foreign families look identical to missing ones.
		render.Render(w, r, httpErrNotFound())
		return
	}

	presences, err := s.presence.FamilyPresence(r.Context(), familyID)
	if err != nil {
		s.logger.Error("failed to read family presence", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	out := make([]presenceEntry, 0, len(presences))
	for _, p := range presences {
		entry := presenceEntry{
			UserID:      p.UserID.String(),
			DisplayName: p.DisplayName,
			State:       p.State,
		}
		if p.Location != nil {
			entry.Location = &presenceLocation{
				Lat:         p.Location.Lat,
				Lng:         p.Location.Lng,
				AccuracyM:   p.Location.AccuracyM,
				SpeedMPS:    p.Location.SpeedMPS,
				MotionState: p.Location.MotionState,
				RecordedAt:  p.Location.RecordedAt,
				UpdatedAt:   p.Location.UpdatedAt,
			}
		}
		out = append(out, entry)
	}

	respondData(w, r, out)
}

func (s *Server) handleActivityFeed(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	familyID, err := uuid.Parse(chi.URLParam(r, "familyID"))
	if err != nil || familyID != auth.FamilyID {
		render.Render(w, r, httpErrNotFound())
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	events, err := s.presence.ActivityFeed(r.Context(), familyID, limit, offset)
	if err != nil {
		s.logger.Error("failed to read activity feed", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	respondData(w, r, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		render.Render(w, r, httpErrNotFound())
		return
	}

	// History is family-scoped: the target must share the requester's
	// family and consent to sharing.
	member, err := s.members.GetMember(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to resolve history target", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}
	if member == nil || member.FamilyID != auth.FamilyID || !member.SharingEnabled {
		render.Render(w, r, httpErrNotFound())
		return
	}

	from := queryTime(r, "from")
	to := queryTime(r, "to")
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	points, err := s.presence.History(r.Context(), userID, from, to, limit, offset)
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	out := make([]historyEntry, 0, len(points))
	for i := range points {
		out = append(out, newHistoryEntry(&points[i]))
	}

	respondData(w, r, out)
}

type historyEntry struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	AccuracyM    *float64  `json:"accuracy_m,omitempty"`
	SpeedMPS     *float64  `json:"speed_mps,omitempty"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	MotionState  string    `json:"motion_state"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func newHistoryEntry(hp *db.HistoryPoint) historyEntry {
	return historyEntry{
		Lat:          hp.Lat,
		Lng:          hp.Lng,
		AccuracyM:    hp.AccuracyM,
		SpeedMPS:     hp.SpeedMPS,
		BatteryLevel: hp.BatteryLevel,
		MotionState:  hp.MotionState,
		RecordedAt:   hp.RecordedAt,
	}
}

type sessionStartRequest struct {
	Mode      string `json:"mode"`
	IntervalS int    `json:"interval_s"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Render(w, r, httpErrInvalidRequest(err))
		return
	}
	if req.Mode == "" {
		req.Mode = session.ModeLive
	}

	state, err := s.sessions.Start(r.Context(), auth.UserID, auth.FamilyID, req.Mode, req.IntervalS, s.sessionTTL(r.Context(), auth.FamilyID))
	if err != nil {
		render.Render(w, r, httpErrInvalidRequest(err))
		return
	}

	respondData(w, r, state)
}

// sessionTTL resolves the family's session TTL override; zero means the
// service default. A failed settings read falls back the same way.
func (s *Server) sessionTTL(ctx context.Context, familyID uuid.UUID) time.Duration {
	row, err := s.settings.GetFamilySettings(ctx, familyID)
	if err != nil {
		s.logger.Warn("failed to load family settings", zap.Error(err))
		return 0
	}
	if row == nil || row.SessionTTLS <= 0 {
		return 0
	}
	return time.Duration(row.SessionTTLS) * time.Second
}

func (s *Server) handleSessionKeepalive(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	state, err := s.sessions.Keepalive(r.Context(), auth.UserID, s.sessionTTL(r.Context(), auth.FamilyID))
	if err != nil {
		s.logger.Error("session keepalive failed", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}
	if state == nil {
		render.Render(w, r, httpErrNotFound())
		return
	}

	respondData(w, r, state)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	state, err := s.sessions.Get(r.Context(), auth.UserID)
	if err != nil {
		s.logger.Error("session read failed", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}
	if state == nil {
		render.Render(w, r, httpErrNotFound())
		return
	}

	respondData(w, r, state)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())

	stopped, err := s.sessions.Stop(r.Context(), auth.UserID)
	if err != nil {
		s.logger.Error("session stop failed", zap.Error(err))
		render.Render(w, r, httpErrUnexpected(err))
		return
	}

	respondData(w, r, map[string]bool{"stopped": stopped})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryTime(r *http.Request, key string) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
