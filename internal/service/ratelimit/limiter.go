package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// maxKeys bounds the per-key limiter table; it is reset when exceeded.
const maxKeys = 10000

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	now func() time.Time
}

func New() *Limiter { return &Limiter{m: make(map[string]*rate.Limiter), now: time.Now} }

// Allow consumes one token for key from a bucket holding up to capacity tokens
// and refilling refillPerSec tokens per second.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	return l.limiter(key, capacity, refillPerSec).AllowN(l.now(), 1)
}

func (l *Limiter) limiter(key string, capacity, refillPerSec float64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[key]
	if !ok {
		if len(l.m) >= maxKeys {
			l.m = make(map[string]*rate.Limiter)
		}
		burst := int(capacity)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(refillPerSec), burst)
		l.m[key] = lim
	}
	return lim
}

// Middleware limits requests per key. Requests with an empty key fall back to
// the client IP.
func (l *Limiter) Middleware(capacity, refillPerSec float64, key func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			k := key(c)
			if k == "" {
				k = c.RealIP()
			}
			if !l.Allow(k, capacity, refillPerSec) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
