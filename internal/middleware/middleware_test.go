package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/cache"
	"churn-insight/internal/logger"
	"churn-insight/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	handler := func(c *gin.Context) {
		role, _ := c.Get("role")
		c.JSON(http.StatusOK, gin.H{"role": role})
	}
	r.GET("/x", handler)
	r.POST("/x", handler)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := services.HashKey("k")
	require.NoError(t, err)
	auth := services.NewAuthService("secret", time.Hour, hash)
	token, _, err := auth.IssueToken("k")
	require.NoError(t, err)
	r := okRouter(AuthMiddleware(auth))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), services.RoleAdmin)
}

func TestRateLimitMiddleware(t *testing.T) {
	cm := cache.NewCacheManager("", time.Minute, logger.Nop())
	r := okRouter(RateLimitMiddleware(cm, 2))

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)

	other := httptest.NewRequest(http.MethodGet, "/x", nil)
	other.RemoteAddr = "10.1.2.3:4000"
	assert.Equal(t, http.StatusOK, serve(r, other).Code)
}

type brokenCounter struct{}

func (brokenCounter) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := okRouter(RateLimitMiddleware(brokenCounter{}, 1))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
}

func TestValidationMiddleware(t *testing.T) {
	r := okRouter(ValidationMiddleware())

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	// job triggers carry no body
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/x", nil)).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := okRouter(CORSMiddleware())
	w := serve(r, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
