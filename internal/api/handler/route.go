package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/pipeline"
)

// RouteHandler serves route analyses.
type RouteHandler struct {
	analyzer Analyzer
	logger   zerolog.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(analyzer Analyzer, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{analyzer: analyzer, logger: logger}
}

// Analyze handles POST /v1/routes:analyze.
func (h *RouteHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if req.SessionID == "" {
		req.SessionID = GetSubject(r.Context())
	}

	res, err := h.analyzer.AnalyzeRoute(r.Context(), req)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, r, http.StatusOK, res)
}

// Batch handles POST /v1/routes:batch. Individual failures are reported per
// item; the call itself succeeds once the body is valid.
func (h *RouteHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var body models.BatchRequest
	if err := decodeJSON(w, r, &body); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if len(body.Requests) == 0 {
		response.BadRequest(w, r, "requests must not be empty", []models.FieldError{
			{Field: "requests", Message: "at least one request is required", Code: "required"},
		})
		return
	}
	if len(body.Requests) > models.MaxBatchSize {
		response.BadRequest(w, r, fmt.Sprintf("at most %d requests per batch", models.MaxBatchSize), []models.FieldError{
			{Field: "requests", Message: fmt.Sprintf("must contain at most %d items", models.MaxBatchSize), Code: "max"},
		})
		return
	}

	if subject := GetSubject(r.Context()); subject != "" {
		for i := range body.Requests {
			if body.Requests[i].SessionID == "" {
				body.Requests[i].SessionID = subject
			}
		}
	}

	resp := models.NewBatchResponse(h.analyzer.BatchAnalyze(r.Context(), body.Requests))
	h.logger.Info().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Int("size", len(body.Requests)).
		Int("succeeded", resp.Succeeded).
		Int("failed", resp.Failed).
		Msg("batch analyzed")

	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, r, http.StatusOK, resp)
}

func (h *RouteHandler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		response.BadRequest(w, r, err.Error(), fieldErrors(err))
		return
	}

	requestID := middleware.GetRequestID(r.Context())
	if stage := pipeline.StageOf(err); stage != "" {
		h.logger.Error().Err(err).Str("request_id", requestID).Str("stage", string(stage)).Msg("route analysis failed")
		response.Error(w, r, models.NewPipelineFailure(requestID, string(stage), err.Error()))
		return
	}

	h.logger.Error().Err(err).Str("request_id", requestID).Msg("route analysis failed")
	response.InternalError(w, r, "route analysis failed")
}

func fieldErrors(err error) []models.FieldError {
	var verr *pipeline.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	out := make([]models.FieldError, len(verr.Violations))
	for i, v := range verr.Violations {
		out[i] = models.FieldError{Field: v.Field, Message: v.Message, Code: v.Code}
	}
	return out
}
