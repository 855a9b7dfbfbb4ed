package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/iliyamo/seatgrid/internal/config"
)

// localBuckets holds one in-memory limiter per rate key.  Buckets idle for
// longer than the configured TTL are pruned.
type localBuckets struct {
	cfg config.RateLimitConfig

	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastPrune time.Time
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLocalTokenBucket(cfg config.RateLimitConfig, logger *slog.Logger) echo.MiddlewareFunc {
	lb := &localBuckets{cfg: cfg, buckets: make(map[string]*localBucket), lastPrune: time.Now()}
	logger.Info("redis not configured; rate limiting per instance")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			now := time.Now()
			lim := lb.limiter(key, now)

			r := lim.ReserveN(now, 1)
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				setLimitHeaders(c, cfg, 0)
				if cfg.Debug {
					logger.Info("blocked", "key", key, "retry", delay)
				}
				return tooManyRequests(c, delay)
			}
			setLimitHeaders(c, cfg, int64(lim.TokensAt(now)))
			return next(c)
		}
	}
}

func (lb *localBuckets) limiter(key string, now time.Time) *rate.Limiter {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if now.Sub(lb.lastPrune) > lb.cfg.TTL {
		for k, b := range lb.buckets {
			if now.Sub(b.seen) > lb.cfg.TTL {
				delete(lb.buckets, k)
			}
		}
		lb.lastPrune = now
	}

	b, ok := lb.buckets[key]
	if !ok {
		every := lb.cfg.RefillInterval / time.Duration(lb.cfg.RefillTokens)
		b = &localBucket{lim: rate.NewLimiter(rate.Every(every), lb.cfg.Capacity)}
		lb.buckets[key] = b
	}
	b.seen = now
	return b.lim
}
