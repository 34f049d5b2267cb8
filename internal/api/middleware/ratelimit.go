package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/saferoute/saferoute/internal/api/models"
)

// RateLimitConfig is a fixed-window request budget.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// AnalyzeRateLimit covers single route analyses.
	AnalyzeRateLimit = RateLimitConfig{RequestLimit: 60, WindowLength: time.Minute}

	// BatchRateLimit covers batch analyses, each of which fans out to many pipelines.
	BatchRateLimit = RateLimitConfig{RequestLimit: 10, WindowLength: time.Minute}

	// StandardRateLimit covers session and ops reads.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// RateLimit limits per session token subject, or per client IP for anonymous callers.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keyBySubjectOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewProblem(models.KindTooManyRequests, GetRequestID(r.Context()), "rate limit exceeded, retry later")
			problem.Instance = r.URL.Path
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowLength.Seconds())))
			problem.Write(w)
		}),
	)
}

func keyBySubjectOrIP(r *http.Request) (string, error) {
	if s := GetSubject(r.Context()); s != "" {
		return "session:" + s, nil
	}
	return httprate.KeyByRealIP(r)
}
