package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textly-chat/internal/auth"
	"textly-chat/internal/observability"
	"textly-chat/internal/ratelimit"
)

const secret = "test-secret"

type stubLimiter struct {
	res   ratelimit.Result
	err   error
	calls []string
}

func (s *stubLimiter) Check(_ context.Context, ns ratelimit.Namespace, userID, ipHash string) (ratelimit.Result, error) {
	s.calls = append(s.calls, ratelimit.Key(ns, userID, ipHash))
	return s.res, s.err
}

func newRouter(limiter Limiter) (*gin.Engine, *bytes.Buffer) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	security := observability.NewSecurityLog(zerolog.New(&buf), nil)

	r := gin.New()
	r.Use(RequestContext())
	r.POST("/api/improve",
		Auth(auth.NewVerifier(secret), security),
		RateLimit(limiter, ratelimit.NamespaceImprove, security),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user": UserID(c), "request_id": RequestID(c)})
		},
	)
	return r, &buf
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.Issue(secret, subject, auth.Claims{}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestRequestIDIsEchoed(t *testing.T) {
	r, _ := newRouter(&stubLimiter{res: ratelimit.Result{Allowed: true, Remaining: 3}})

	req := httptest.NewRequest(http.MethodPost, "/api/improve", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Remaining"))
	assert.JSONEq(t, `{"user":"user-1","request_id":"req-42"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/improve", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "a request id is generated when absent")
}

func TestAuthRejectsMissingAndForgedTokens(t *testing.T) {
	limiter := &stubLimiter{res: ratelimit.Result{Allowed: true}}
	r, buf := newRouter(limiter)

	forged, err := auth.Issue("other-secret", "user-1", auth.Claims{}, time.Hour)
	require.NoError(t, err)

	for _, header := range []string{"", "Bearer " + forged, "Basic abc"} {
		req := httptest.NewRequest(http.MethodPost, "/api/improve", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthenticated"}`, w.Body.String())
	}
	assert.Empty(t, limiter.calls, "unauthenticated calls never reach the limiter")

	lines := logLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "auth_fail", lines[0]["event"])
	assert.Equal(t, "/api/improve", lines[0]["route"])
	assert.Equal(t, observability.HashIP("203.0.113.9"), lines[0]["ip_hash"])
	assert.NotContains(t, buf.String(), "203.0.113.9")
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &stubLimiter{res: ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	r, buf := newRouter(limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/improve", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, w.Body.String())
	assert.Equal(t, []string{"rl:improve:user-1:" + observability.HashIP("198.51.100.7")}, limiter.calls)

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "rate_limited", lines[0]["event"])
	assert.Equal(t, "user-1", lines[0]["user_id"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestRateLimitMisconfigured(t *testing.T) {
	for _, err := range []error{ratelimit.ErrMisconfigured, errors.New("dial tcp: connection refused")} {
		r, buf := newRouter(&stubLimiter{err: err})

		req := httptest.NewRequest(http.MethodPost, "/api/improve", nil)
		req.Header.Set("Authorization", bearer(t, "user-1"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
		lines := logLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "config_error", lines[0]["event"])
		assert.Equal(t, "error", lines[0]["level"])
	}
}
