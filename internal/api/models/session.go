package models

import (
	"time"

	"github.com/saferoute/saferoute/internal/session"
)

// SessionTokenResponse is returned when a session and its token are created.
type SessionTokenResponse struct {
	SessionID string     `json:"session_id"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewSessionTokenResponse builds the response; token may be empty when tokens are disabled.
func NewSessionTokenResponse(sessionID, token string, expiresAt time.Time) SessionTokenResponse {
	resp := SessionTokenResponse{SessionID: sessionID, Token: token}
	if token != "" {
		exp := expiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	return resp
}

// HistoryResponse is the body of GET /v1/sessions/{sessionId}/history.
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	Records   []session.Record `json:"records"`
	Count     int              `json:"count"`
}

// StatisticsResponse is the body of GET /v1/sessions/{sessionId}/statistics.
type StatisticsResponse struct {
	SessionID  string             `json:"session_id"`
	Statistics session.Statistics `json:"statistics"`
}

// PreferencesResponse is the body of the preferences endpoints.
type PreferencesResponse struct {
	SessionID   string              `json:"session_id"`
	Preferences session.Preferences `json:"preferences"`
}
