package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIPLimiterBurst(t *testing.T) {
	l := NewIPLimiter(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	// Keys are independent.
	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok)
}

func TestIPLimiterPrune(t *testing.T) {
	l := NewIPLimiter(10)
	_, _ = l.Allow(context.Background(), "a")
	_, _ = l.Allow(context.Background(), "b")
	assert.Zero(t, l.Prune(time.Hour))
	assert.Equal(t, 2, l.Prune(-time.Second))
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("redis: connection refused")
}

func serve(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	return w.Code
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	r := gin.New()
	r.GET("/ping", GinMiddleware(NewIPLimiter(2), zap.NewNop()), ok)
	assert.Equal(t, http.StatusOK, serve(r))
	assert.Equal(t, http.StatusOK, serve(r))
	assert.Equal(t, http.StatusTooManyRequests, serve(r))

	// A failing limiter lets traffic through.
	r = gin.New()
	r.GET("/ping", GinMiddleware(brokenLimiter{}, zap.NewNop()), ok)
	assert.Equal(t, http.StatusOK, serve(r))
}
