package models

import "github.com/saferoute/saferoute/internal/pipeline"

// MaxBatchSize bounds the requests of one batch call.
const MaxBatchSize = 100

// BatchRequest is the body of POST /v1/routes:batch.
type BatchRequest struct {
	Requests []pipeline.RouteRequest `json:"requests"`
}

// BatchResponse reports one item per request, in request order.
type BatchResponse struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// BatchItem is either a result or an error.
type BatchItem struct {
	Index  int              `json:"index"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  *BatchError      `json:"error,omitempty"`
}

// BatchError describes a failed batch item.
type BatchError struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// NewBatchResponse converts positional outcomes.
func NewBatchResponse(outcomes []pipeline.Outcome) BatchResponse {
	resp := BatchResponse{Items: make([]BatchItem, len(outcomes))}
	for i, o := range outcomes {
		item := BatchItem{Index: o.Index}
		if o.OK() {
			item.Result = o.Result
			resp.Succeeded++
		} else {
			item.Error = &BatchError{Stage: string(pipeline.StageOf(o.Err)), Message: o.Err.Error()}
			resp.Failed++
		}
		resp.Items[i] = item
	}
	return resp
}
