package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/auth"
)

// SubjectValidator resolves a bearer token to its session key.
type SubjectValidator interface {
	Subject(token string) (string, error)
}

type subjectKey struct{}

// OptionalAuth accepts anonymous requests. When an Authorization header is
// present it must carry a valid bearer token, whose subject is stored in the
// context as the caller's default session key. A nil validator disables the check.
func OptionalAuth(v SubjectValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || v == nil {
				next.ServeHTTP(w, r)
				return
			}

			const prefix = "Bearer "
			if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			subject, err := v.Subject(strings.TrimSpace(header[len(prefix):]))
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "session token has expired")
				case errors.Is(err, auth.ErrSigningDisabled):
					writeUnauthorized(w, r, "session tokens are not enabled")
				default:
					writeUnauthorized(w, r, "invalid session token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// WithSubject stores the authenticated session key in ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// GetSubject returns the authenticated session key, or "" for anonymous requests.
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewProblem(models.KindUnauthorized, GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
