package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/saferoute/saferoute/internal/routing"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid route request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RouteRequest is one trip to analyze. It is not modified once built.
type RouteRequest struct {
	Start       routing.Coordinate `json:"start"`
	Destination routing.Coordinate `json:"destination"`
	RouteType   routing.RouteType  `json:"route_type" validate:"required,oneof=driving walking cycling"`
	// SessionID is optional; a new one is generated when empty.
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	// DepartAt defaults to the time the run starts.
	DepartAt *time.Time `json:"depart_at,omitempty"`
}

// Violation is one failed field constraint. Field is the JSON path.
type Violation struct {
	Field   string
	Code    string
	Message string
}

// ValidationError lists every violated constraint of a request. It matches
// ErrInvalidRequest with errors.Is.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return ErrInvalidRequest.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Validate checks field constraints. It returns a *ValidationError.
func (r RouteRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	out := &ValidationError{Violations: make([]Violation, len(verrs))}
	for i, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "RouteRequest.")
		out.Violations[i] = Violation{Field: field, Code: fe.Tag(), Message: fieldMessage(field, fe)}
	}
	return out
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "latitude":
		return field + " must be between -90 and 90"
	case "longitude":
		return field + " must be between -180 and 180"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
