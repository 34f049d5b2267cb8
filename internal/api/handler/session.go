package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/session"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Enabled() bool
	IssueSessionToken(sessionID string) (string, time.Time, error)
}

// SessionHandler serves session history, statistics and preferences.
type SessionHandler struct {
	analyzer Analyzer
	tokens   TokenIssuer
	logger   zerolog.Logger
}

// NewSessionHandler creates a SessionHandler. tokens may be nil.
func NewSessionHandler(analyzer Analyzer, tokens TokenIssuer, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{analyzer: analyzer, tokens: tokens, logger: logger}
}

// CreateSession handles POST /v1/sessions. It starts a session and, when
// token signing is configured, returns a bearer token bound to it.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := h.analyzer.GetSession(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}

	var (
		token     string
		expiresAt time.Time
	)
	if h.tokens != nil && h.tokens.Enabled() {
		var err error
		token, expiresAt, err = h.tokens.IssueSessionToken(id)
		if err != nil {
			h.logger.Error().Err(err).Str("session_id", id).Msg("issuing session token failed")
			response.InternalError(w, r, "could not issue session token")
			return
		}
	}

	response.Created(w, r, "/v1/sessions/"+id+"/statistics", models.NewSessionTokenResponse(id, token, expiresAt))
}

// GetHistory handles GET /v1/sessions/{sessionId}/history?limit=N.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "must be an integer between 1 and 1000", Code: "range"},
			})
			return
		}
		limit = n
	}

	records, err := h.analyzer.GetHistory(r.Context(), id, limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.HistoryResponse{SessionID: id, Records: records, Count: len(records)})
}

// GetStatistics handles GET /v1/sessions/{sessionId}/statistics.
func (h *SessionHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	stats, err := h.analyzer.GetStatistics(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.StatisticsResponse{SessionID: id, Statistics: stats})
}

// GetPreferences handles GET /v1/sessions/{sessionId}/preferences.
func (h *SessionHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.analyzer.GetSession(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.PreferencesResponse{SessionID: id, Preferences: s.Preferences})
}

// UpdatePreferences handles PATCH /v1/sessions/{sessionId}/preferences.
func (h *SessionHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var upd session.PreferencesUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	prefs, err := h.analyzer.UpdatePreferences(r.Context(), id, upd)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.PreferencesResponse{SessionID: id, Preferences: prefs})
}

func (h *SessionHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidKey), errors.Is(err, session.ErrInvalidPreferences):
		response.BadRequest(w, r, err.Error(), nil)
	default:
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("session store failed")
		response.ServiceUnavailable(w, r, "session store unavailable")
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionId")
	if err := session.ValidateKey(id); err != nil {
		response.BadRequest(w, r, "invalid session id", []models.FieldError{
			{Field: "sessionId", Message: "must be 1 to 128 characters", Code: "length"},
		})
		return "", false
	}
	return id, true
}
