package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/auth"
)

func tokenService(now func() time.Time) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{SigningKey: "mw-test", Issuer: "saferoute", Audience: "saferoute-api", Now: now})
}

func serveAuth(t *testing.T, v middleware.SubjectValidator, header string) (int, string) {
	t.Helper()
	var subject string
	h := middleware.OptionalAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.GetSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/routes:analyze", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, subject
}

func TestOptionalAuth_Anonymous(t *testing.T) {
	code, subject := serveAuth(t, tokenService(nil), "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, subject)
}

func TestOptionalAuth_ValidToken(t *testing.T) {
	svc := tokenService(nil)
	token, _, err := svc.IssueSessionToken("sess-1")
	require.NoError(t, err)

	code, subject := serveAuth(t, svc, "bearer "+token)
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, "sess-1", subject)
}

func TestOptionalAuth_Rejects(t *testing.T) {
	expired, _, err := tokenService(func() time.Time { return time.Now().Add(-72 * time.Hour) }).IssueSessionToken("sess-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer abc.def.ghi"},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := serveAuth(t, tokenService(nil), tt.header)
			assert.Equal(t, http.StatusUnauthorized, code)
		})
	}
}

func TestOptionalAuth_NilValidatorIgnoresHeader(t *testing.T) {
	code, subject := serveAuth(t, nil, "Bearer whatever")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, subject)
}
