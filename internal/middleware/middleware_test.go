package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paycore/config"
	"paycore/internal/auth"
	"paycore/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthRequired(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "test-secret", AccessExpiry: time.Hour, Issuer: "paycore"}
	r := gin.New()
	r.GET("/me", AuthRequired(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, GetDonorID(c)+"/"+GetRole(c))
	})
	r.GET("/admin", AuthRequired(cfg), AdminRequired(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	donor, err := auth.GenerateAccessToken(cfg, "donor-7", domain.RoleDonor)
	require.NoError(t, err)
	admin, err := auth.GenerateAccessToken(cfg, "ops-1", domain.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"missing header", "/me", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/me", "Basic " + donor, http.StatusUnauthorized, ""},
		{"garbage token", "/me", "Bearer nope", http.StatusUnauthorized, ""},
		{"donor", "/me", "Bearer " + donor, http.StatusOK, "donor-7/DONOR"},
		{"donor on admin route", "/admin", "Bearer " + donor, http.StatusForbidden, ""},
		{"admin", "/admin", "Bearer " + admin, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestSlidingWindowLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(2, time.Minute)
	defer l.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("a"), "window slid past the earlier hits")

	now = now.Add(2 * time.Minute)
	l.evict()
	l.mu.Lock()
	assert.Empty(t, l.hits)
	l.mu.Unlock()
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	defer l.Close()
	r := gin.New()
	r.POST("/hook/:provider", RateLimit(l), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook/stripe", nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestSlidingWindowLimiter_Disabled(t *testing.T) {
	l := NewSlidingWindowLimiter(0, time.Minute)
	defer l.Close()
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("x"))
	}
}
