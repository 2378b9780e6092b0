package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = ip + ":4000"
		return req
	}

	assert.Equal(t, http.StatusNoContent, serve(r, req("10.0.0.1")).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, req("10.0.0.1")).Code)
	w := serve(r, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.ErrRateLimitExceeded, errorCode(t, w))

	assert.Equal(t, http.StatusNoContent, serve(r, req("10.0.0.2")).Code)
}

func TestRateLimiter_CleanupDropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, time.Millisecond)
	require.True(t, rl.Allow("a"))
	time.Sleep(10 * time.Millisecond)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestRequireProctorToken(t *testing.T) {
	newRouter := func(token string) *gin.Engine {
		r := gin.New()
		r.GET("/monitor", RequireProctorToken(token), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	tests := []struct {
		name       string
		configured string
		header     string
		query      string
		status     int
		code       response.ErrCode
	}{
		{"disabled", "", "Bearer anything", "", http.StatusServiceUnavailable, response.ErrNotConfigured},
		{"missing", "s3cret", "", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"wrong", "s3cret", "Bearer nope", "", http.StatusForbidden, response.ErrForbidden},
		{"header", "s3cret", "Bearer s3cret", "", http.StatusOK, ""},
		{"query for event source", "s3cret", "", "s3cret", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/monitor"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(newRouter(tt.configured), req)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			}
		})
	}
}

func TestRequireSessionToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	tokens := service.NewTokenService("secret", time.Minute, clock.NewManual(now))
	sub := &model.Submission{ID: uuid.New(), Email: "sari@example.com"}
	token, err := tokens.Issue(sub, &model.Attempt{ID: uuid.New(), EndTime: now.Add(time.Hour)})
	require.NoError(t, err)

	r := gin.New()
	handler := func(c *gin.Context) {
		claims := GetClaims(c)
		c.String(http.StatusOK, claims.SubmissionID.String())
	}
	r.GET("/session", RequireSessionToken(tokens), handler)
	r.GET("/ws", RequireSessionWSAuth(tokens), handler)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sub.ID.String(), w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrTokenRequired, errorCode(t, w))

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	w = serve(r, req)
	assert.Equal(t, response.ErrTokenInvalid, errorCode(t, w))

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
