package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sportrank/internal/domain"
	"github.com/sportrank/internal/matchmaking"
	"github.com/sportrank/internal/service"
	"github.com/sportrank/internal/websocket"
)

// Handler provides HTTP handlers for the rating and matchmaking API
type Handler struct {
	service *service.RatingService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.RatingService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

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
		// Activity type administration
		r.Route("/activity-types", func(r chi.Router) {
			r.Post("/", h.CreateActivityType)
			r.Get("/{activityTypeID}", h.GetActivityType)
		})

		// Activity lifecycle
		r.Route("/activities", func(r chi.Router) {
			r.Post("/", h.CreateActivity)

			r.Route("/{activityID}", func(r chi.Router) {
				r.Post("/complete", h.CompleteActivity)
				r.Get("/status", h.GetCompletionStatus)
				r.Post("/teams/balance", h.BalanceTeams)
			})
		})

		// Matchmaking
		r.Get("/players/{userID}/compatible", h.FindCompatiblePlayers)
		r.Post("/players/{userID}/connections", h.AddSocialConnection)

		// Skill feedback
		r.Post("/skills/ratings", h.SubmitSkillRating)
		r.Get("/skills/{userID}", h.GetSkillSignals)

		// Rating reads
		r.Route("/ratings/{activityTypeID}", func(r chi.Router) {
			r.Get("/top", h.GetTopRatings)
			r.Get("/player/{userID}", h.GetPlayerRating)
			r.Get("/around/{userID}", h.GetRatingsAround)
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

// writeServiceError maps a service error onto the response taxonomy:
// validation 400, conflict 409, not found 404, everything else 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	}
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

// CreateActivityType registers an activity type's rating constants
func (h *Handler) CreateActivityType(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ActivityTypeRatingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.CreateActivityType(r.Context(), cfg); err != nil {
		h.writeServiceError(w, err, "create activity type")
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    cfg,
	})
}

// GetActivityType returns an activity type's rating constants
func (h *Handler) GetActivityType(w http.ResponseWriter, r *http.Request) {
	activityTypeID := chi.URLParam(r, "activityTypeID")
	if activityTypeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	cfg, err := h.service.GetActivityTypeConfig(r.Context(), activityTypeID)
	if err != nil {
		h.writeServiceError(w, err, "get activity type")
		return
	}

	h.writeSuccess(w, cfg)
}

// CreateActivityRequest registers an activity with its accepted roster
type CreateActivityRequest struct {
	Activity     domain.Activity      `json:"activity"`
	Participants []domain.Participant `json:"participants"`
}

// CreateActivity registers an activity for later completion
func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.CreateActivity(r.Context(), req.Activity, req.Participants); err != nil {
		h.writeServiceError(w, err, "create activity")
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    req.Activity,
	})
}

// CompleteActivity runs the completion pipeline for an activity
func (h *Handler) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activityID")
	if activityID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	outcome, err := h.service.CompleteActivity(r.Context(), activityID, req.Results)
	if err != nil {
		h.writeServiceError(w, err, "complete activity")
		return
	}

	// An insufficient-participant skip is a successful no-op
	h.writeSuccess(w, outcome)
}

// GetCompletionStatus returns an activity's completion state
func (h *Handler) GetCompletionStatus(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activityID")
	if activityID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	status, err := h.service.GetCompletionStatus(r.Context(), activityID)
	if err != nil {
		h.writeServiceError(w, err, "get completion status")
		return
	}

	h.writeSuccess(w, status)
}

// BalanceTeamsRequest controls a team balancing run
type BalanceTeamsRequest struct {
	TeamCount int  `json:"team_count"`
	Apply     bool `json:"apply"`
}

// BalanceTeams partitions an activity's roster into balanced teams
func (h *Handler) BalanceTeams(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activityID")
	if activityID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req BalanceTeamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	assignment, err := h.service.BalanceTeams(r.Context(), activityID, req.TeamCount, req.Apply)
	if err != nil {
		h.writeServiceError(w, err, "balance teams")
		return
	}

	h.writeSuccess(w, assignment)
}

// FindCompatiblePlayers recommends opponents near a player's rating
func (h *Handler) FindCompatiblePlayers(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	activityTypeID := r.URL.Query().Get("activity_type_id")
	if userID == "" || activityTypeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	opts := matchmaking.Options{
		PenalizeRecent: r.URL.Query().Get("penalize_recent") == "true",
	}
	if tolStr := r.URL.Query().Get("tolerance"); tolStr != "" {
		if t, err := strconv.Atoi(tolStr); err == nil && t > 0 {
			opts.Tolerance = t
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}

	recommendations, err := h.service.FindCompatiblePlayers(r.Context(), userID, activityTypeID, opts)
	if err != nil {
		h.writeServiceError(w, err, "find compatible players")
		return
	}

	h.writeSuccess(w, recommendations)
}

// AddSocialConnectionRequest names the other side of a social edge
type AddSocialConnectionRequest struct {
	ConnectedUserID string `json:"connected_user_id"`
}

// AddSocialConnection records a mutual social edge
func (h *Handler) AddSocialConnection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req AddSocialConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.AddSocialConnection(r.Context(), userID, req.ConnectedUserID); err != nil {
		h.writeServiceError(w, err, "add social connection")
		return
	}

	h.writeSuccess(w, map[string]string{"status": "connected"})
}

// SubmitSkillRating records one peer skill rating
func (h *Handler) SubmitSkillRating(w http.ResponseWriter, r *http.Request) {
	var rating domain.SkillRating
	if err := json.NewDecoder(r.Body).Decode(&rating); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.SubmitSkillRating(r.Context(), rating); err != nil {
		h.writeServiceError(w, err, "submit skill rating")
		return
	}

	h.writeSuccess(w, map[string]string{"status": "accepted"})
}

// GetSkillSignals returns a player's aggregated skill feedback
func (h *Handler) GetSkillSignals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	signals, err := h.service.GetSkillSignals(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "get skill signals")
		return
	}

	h.writeSuccess(w, signals)
}

// GetTopRatings returns the highest-rated players for an activity type
func (h *Handler) GetTopRatings(w http.ResponseWriter, r *http.Request) {
	activityTypeID := chi.URLParam(r, "activityTypeID")
	if activityTypeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.GetTopRatings(r.Context(), activityTypeID, limit)
	if err != nil {
		h.writeServiceError(w, err, "get top ratings")
		return
	}

	h.writeSuccess(w, entries)
}

// GetPlayerRating returns a player's rating record and current rank
func (h *Handler) GetPlayerRating(w http.ResponseWriter, r *http.Request) {
	activityTypeID := chi.URLParam(r, "activityTypeID")
	userID := chi.URLParam(r, "userID")
	if activityTypeID == "" || userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	record, err := h.service.GetPlayerRating(r.Context(), userID, activityTypeID)
	if err != nil {
		h.writeServiceError(w, err, "get player rating")
		return
	}

	response := map[string]interface{}{"record": record}
	if entry, err := h.service.GetPlayerRank(r.Context(), activityTypeID, userID); err == nil {
		response["rank"] = entry.Rank
	}

	h.writeSuccess(w, response)
}

// GetRatingsAround returns players ranked around one player
func (h *Handler) GetRatingsAround(w http.ResponseWriter, r *http.Request) {
	activityTypeID := chi.URLParam(r, "activityTypeID")
	userID := chi.URLParam(r, "userID")
	if activityTypeID == "" || userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	count := 5
	if rangeStr := r.URL.Query().Get("range"); rangeStr != "" {
		if c, err := strconv.Atoi(rangeStr); err == nil && c > 0 {
			count = c
		}
	}

	entries, err := h.service.GetRatingsAround(r.Context(), activityTypeID, userID, count)
	if err != nil {
		h.writeServiceError(w, err, "get ratings around player")
		return
	}

	h.writeSuccess(w, entries)
}
