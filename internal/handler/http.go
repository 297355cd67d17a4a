package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chess-activity-tracker/internal/crypto"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/sync"
	"github.com/chess-activity-tracker/internal/websocket"
)

// Store is the persistence surface the HTTP layer reads and writes
type Store interface {
	CreateConnection(ctx context.Context, conn domain.PlatformConnection) error
	ListConnectionsForStudent(ctx context.Context, studentID string) ([]domain.PlatformConnection, error)
	DeleteConnection(ctx context.Context, studentID string, pf domain.Platform) error
	ListCurrentStatsForStudent(ctx context.Context, studentID string) ([]domain.CurrentStats, error)
	ListSnapshots(ctx context.Context, studentID string, pf domain.Platform, limit int) ([]domain.StatsSnapshot, error)
}

// SyncService triggers syncs and resolves handle lookups
type SyncService interface {
	RunBatch(ctx context.Context, opts sync.BatchOptions) (*domain.BatchSummary, error)
	LookupHandle(ctx context.Context, handle string) ([]domain.HandleStats, error)
}

// StatsCache is the optional read cache for student stats
type StatsCache interface {
	GetCurrentStats(ctx context.Context, studentID string) ([]domain.CurrentStats, error)
	SetCurrentStats(ctx context.Context, studentID string, stats []domain.CurrentStats) error
}

// Handler provides HTTP handlers for the activity API
type Handler struct {
	store  Store
	syncer SyncService
	hub    *websocket.Hub
	sealer *crypto.Sealer
	cache  StatsCache
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(store Store, syncer SyncService, hub *websocket.Hub, sealer *crypto.Sealer, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		syncer: syncer,
		hub:    hub,
		sealer: sealer,
		logger: logger,
	}
}

// SetCache attaches the optional stats cache
func (h *Handler) SetCache(cache StatsCache) { h.cache = cache }

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/run", h.TriggerSync)
		r.Get("/lookup/{handle}", h.LookupHandle)

		r.Route("/students/{studentID}", func(r chi.Router) {
			r.Get("/stats", h.GetStudentStats)
			r.Get("/snapshots", h.GetStudentSnapshots)

			r.Route("/connections", func(r chi.Router) {
				r.Post("/", h.LinkAccount)
				r.Get("/", h.ListConnections)
				r.Delete("/{platform}", h.UnlinkAccount)
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// TriggerSyncRequest is the body for manual sync triggers. A student and
// platform target one connection; otherwise limit/offset select a page
// of the roster.
type TriggerSyncRequest struct {
	StudentID string          `json:"student_id,omitempty"`
	Platform  domain.Platform `json:"platform,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// TriggerSync runs a sync batch on demand
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req TriggerSyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
	}

	if req.StudentID != "" {
		if _, err := domain.ParsePlatform(string(req.Platform)); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	summary, err := h.syncer.RunBatch(r.Context(), sync.BatchOptions{
		StudentID: req.StudentID,
		Platform:  req.Platform,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		if domain.IsNotFoundError(err) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to run sync batch", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, summary)
}

// LookupHandle resolves a free-text handle across all platforms
func (h *Handler) LookupHandle(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	rows, err := h.syncer.LookupHandle(r.Context(), handle)
	if err != nil {
		if errors.Is(err, domain.ErrHandleNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("failed to look up handle", "handle", handle, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, rows)
}

// StudentStatsRow is a CurrentStats row with its staleness flag resolved
// for the dashboard
type StudentStatsRow struct {
	domain.CurrentStats
	Stale bool `json:"stale"`
}

// GetStudentStats returns the latest computed stats for each of a
// student's connected platforms
func (h *Handler) GetStudentStats(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if studentID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var stats []domain.CurrentStats
	if h.cache != nil {
		cached, err := h.cache.GetCurrentStats(r.Context(), studentID)
		if err != nil {
			h.logger.Warn("stats cache read failed", "student_id", studentID, "error", err)
		} else {
			stats = cached
		}
	}

	if stats == nil {
		var err error
		stats, err = h.store.ListCurrentStatsForStudent(r.Context(), studentID)
		if err != nil {
			h.logger.Error("failed to list student stats", "student_id", studentID, "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
			return
		}
		if h.cache != nil && len(stats) > 0 {
			if err := h.cache.SetCurrentStats(r.Context(), studentID, stats); err != nil {
				h.logger.Warn("stats cache write failed", "student_id", studentID, "error", err)
			}
		}
	}

	rows := make([]StudentStatsRow, 0, len(stats))
	for i := range stats {
		rows = append(rows, StudentStatsRow{
			CurrentStats: stats[i],
			Stale:        stats[i].Stale(),
		})
	}

	h.writeSuccess(w, rows)
}

// GetStudentSnapshots returns recent snapshots for one of a student's
// platforms
func (h *Handler) GetStudentSnapshots(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if studentID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	pf, err := domain.ParsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 30
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	snaps, err := h.store.ListSnapshots(r.Context(), studentID, pf, limit)
	if err != nil {
		h.logger.Error("failed to list snapshots", "student_id", studentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, snaps)
}

// LinkAccount creates a platform connection for a student. A supplied
// API token is encrypted before it ever reaches the database.
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if studentID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.LinkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if _, err := domain.ParsePlatform(string(req.Platform)); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	conn := domain.PlatformConnection{
		StudentID: studentID,
		Platform:  req.Platform,
		Username:  req.Username,
	}
	if req.Token != "" {
		if h.sealer == nil {
			h.logger.Error("token supplied but no encryption key configured", "student_id", studentID)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
			return
		}
		sealed, err := h.sealer.Seal(req.Token)
		if err != nil {
			h.logger.Error("failed to encrypt platform token", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
			return
		}
		conn.EncryptedToken = sealed
	}

	if err := h.store.CreateConnection(r.Context(), conn); err != nil {
		if errors.Is(err, domain.ErrConnectionExists) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.logger.Error("failed to create connection", "student_id", studentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    conn,
	})
}

// ListConnections returns a student's linked platform accounts
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if studentID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	conns, err := h.store.ListConnectionsForStudent(r.Context(), studentID)
	if err != nil {
		h.logger.Error("failed to list connections", "student_id", studentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, conns)
}

// UnlinkAccount removes a student's platform connection
func (h *Handler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	pf, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if studentID == "" || err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.store.DeleteConnection(r.Context(), studentID, pf); err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to delete connection", "student_id", studentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "unlinked"})
}
