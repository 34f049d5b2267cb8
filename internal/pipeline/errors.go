package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a trace or an error belongs to.
type Stage string

const (
	StageRequest         Stage = "request"
	StageRouteAnalysis   Stage = "route_analysis"
	StageSafetyData      Stage = "safety_data"
	StageRiskScoring     Stage = "risk_scoring"
	StageOptimization    Stage = "optimization"
	StageAlertFormatting Stage = "alert_formatting"
	StageSessionAppend   Stage = "session_append"
)

// Error is a fatal pipeline failure. Only request validation, risk
// scoring and alert formatting produce one; every other stage degrades.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf returns the failing stage of err, or "" when err is not a pipeline error.
func StageOf(err error) Stage {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return ""
}
