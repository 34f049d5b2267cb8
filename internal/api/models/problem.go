package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 body, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID is the request id, echoed in X-Request-Id.
	TraceID string `json:"trace_id"`

	// Stage names the failed pipeline stage of a pipeline failure.
	Stage string `json:"stage,omitempty"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is a violated constraint of one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemKind selects a problem type with its fixed title and status.
type ProblemKind string

const problemBase = "https://saferoute.dev/problems/"

const (
	KindValidation       ProblemKind = "validation-error"
	KindUnauthorized     ProblemKind = "unauthorized"
	KindTLSRequired      ProblemKind = "tls-required"
	KindNotFound         ProblemKind = "not-found"
	KindMethodNotAllowed ProblemKind = "method-not-allowed"
	KindUnsupportedMedia ProblemKind = "unsupported-media-type"
	KindTooManyRequests  ProblemKind = "too-many-requests"
	KindInternal         ProblemKind = "internal-error"
	KindPipeline         ProblemKind = "pipeline-failure"
	KindUnavailable      ProblemKind = "service-unavailable"
)

var problemCatalog = map[ProblemKind]struct {
	title  string
	status int
}{
	KindValidation:       {"Validation error", http.StatusBadRequest},
	KindUnauthorized:     {"Unauthorized", http.StatusUnauthorized},
	KindTLSRequired:      {"TLS required", http.StatusForbidden},
	KindNotFound:         {"Not found", http.StatusNotFound},
	KindMethodNotAllowed: {"Method not allowed", http.StatusMethodNotAllowed},
	KindUnsupportedMedia: {"Unsupported media type", http.StatusUnsupportedMediaType},
	KindTooManyRequests:  {"Too many requests", http.StatusTooManyRequests},
	KindInternal:         {"Internal server error", http.StatusInternalServerError},
	KindPipeline:         {"Pipeline failure", http.StatusBadGateway},
	KindUnavailable:      {"Service unavailable", http.StatusServiceUnavailable},
}

// URI returns the problem type URI.
func (k ProblemKind) URI() string {
	return problemBase + string(k)
}

// Status returns the HTTP status of k; unknown kinds are 500.
func (k ProblemKind) Status() int {
	if e, ok := problemCatalog[k]; ok {
		return e.status
	}
	return http.StatusInternalServerError
}

// NewProblem builds a problem of kind k.
func NewProblem(k ProblemKind, traceID, detail string) *Problem {
	e, ok := problemCatalog[k]
	if !ok {
		k, e = KindInternal, problemCatalog[KindInternal]
	}
	return &Problem{
		Type:    k.URI(),
		Title:   e.title,
		Status:  e.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewBadRequest builds a validation problem listing the violated fields.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(KindValidation, traceID, detail)
	p.Errors = errors
	return p
}

// NewPipelineFailure builds the problem for a fatal pipeline stage.
func NewPipelineFailure(traceID, stage, detail string) *Problem {
	p := NewProblem(KindPipeline, traceID, detail)
	p.Stage = stage
	return p
}

// Write sends p with its status.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
