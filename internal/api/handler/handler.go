// Package handler provides the HTTP handlers of the SafeRoute API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/pipeline"
	"github.com/saferoute/saferoute/internal/session"
	"github.com/saferoute/saferoute/internal/tracing"
)

// maxBodyBytes bounds request bodies; a full batch stays well under it.
const maxBodyBytes = 1 << 20

// Analyzer is the subset of pipeline.Service the handlers use.
type Analyzer interface {
	AnalyzeRoute(ctx context.Context, req pipeline.RouteRequest) (*pipeline.Result, error)
	BatchAnalyze(ctx context.Context, reqs []pipeline.RouteRequest) []pipeline.Outcome
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	UpdatePreferences(ctx context.Context, sessionID string, upd session.PreferencesUpdate) (session.Preferences, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]session.Record, error)
	GetStatistics(ctx context.Context, sessionID string) (session.Statistics, error)
}

// TraceSource exposes the pipeline trace ledger.
type TraceSource interface {
	GetTraceStats() []tracing.Stats
	GetOperationStats(name string) (tracing.Stats, bool)
	GetRecentTraces(name string) []tracing.Record
}

var _ Analyzer = (*pipeline.Service)(nil)
var _ TraceSource = (*pipeline.Service)(nil)

// GetSubject returns the session key of the caller's bearer token, if any.
func GetSubject(ctx context.Context) string {
	return middleware.GetSubject(ctx)
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON decodes a single JSON document, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}
