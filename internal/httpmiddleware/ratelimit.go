package httpmiddleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// IPLimiter is an in-memory token bucket per client key.
type IPLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	state map[string]*visitor
}

type visitor struct {
	l    *rate.Limiter
	seen time.Time
}

// NewIPLimiter allows perMinute requests per key with a burst of the same size.
func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &IPLimiter{
		limit: rate.Limit(float64(perMinute) / 60),
		burst: perMinute,
		state: make(map[string]*visitor),
	}
}

func (l *IPLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.state[key]
	if !ok {
		v = &visitor{l: rate.NewLimiter(l.limit, l.burst)}
		l.state[key] = v
	}
	v.seen = now
	return v.l.AllowN(now, 1), nil
}

// Prune drops keys idle for longer than maxIdle.
func (l *IPLimiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for k, v := range l.state {
		if v.seen.Before(cutoff) {
			delete(l.state, k)
			n++
		}
	}
	return n
}

// RedisLimiter is a fixed one-minute window shared by every API instance.
type RedisLimiter struct {
	client    *redis.Client
	perMinute int64
	prefix    string
}

func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RedisLimiter{client: client, perMinute: int64(perMinute), prefix: "schooltrack:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / 60
	k := l.prefix + key + ":" + strconv.FormatInt(window, 10)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= l.perMinute, nil
}

// GinMiddleware returns gin handler enforcing per-IP limits. Limiter errors
// let the request through.
func GinMiddleware(l Limiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}
