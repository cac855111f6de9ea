// Package ratelimit protects the Admission Service's REST surface using
// ulule/limiter, backed by Redis when available and falling back to an
// in-process memory store otherwise (the same degrade-friendly posture as
// the Metadata Store Adapter).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/watchsync/core/internal/v1/auth"
	"github.com/watchsync/core/internal/v1/config"
	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
)

// RateLimiter enforces one rate per authenticated user and a looser one
// per IP for unauthenticated requests, both derived from the configured
// window and request ceiling.
type RateLimiter struct {
	perUser *limiter.Limiter
	perIP   *limiter.Limiter
}

// New builds a RateLimiter from cfg. When redisClient is nil it runs on an
// in-process memory store, which is sufficient for a single instance.
func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rate := limiter.Rate{
		Period: time.Duration(cfg.RateLimitWindowMs) * time.Millisecond,
		Limit:  int64(cfg.RateLimitMaxRequests),
	}
	if rate.Period <= 0 || rate.Limit <= 0 {
		return nil, fmt.Errorf("invalid rate limit configuration: %d requests per %d ms", cfg.RateLimitMaxRequests, cfg.RateLimitWindowMs)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "watchparty:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("creating redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-process memory store")
	}

	// Authenticated callers get a per-user bucket at the configured rate;
	// unauthenticated callers share a tighter per-IP bucket at a quarter
	// of it, since they have not proven identity.
	ipRate := rate
	ipRate.Limit = rate.Limit / 4
	if ipRate.Limit < 1 {
		ipRate.Limit = 1
	}

	return &RateLimiter{
		perUser: limiter.New(store, rate),
		perIP:   limiter.New(store, ipRate),
	}, nil
}

// Middleware enforces the rate limit for the Admission Service's REST
// routes, keyed by authenticated user id when available, else client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			instance *limiter.Limiter
			key      string
			keyType  string
		)

		if claims, ok := c.Get("claims"); ok {
			if userClaims, ok := claims.(*auth.CustomClaims); ok {
				instance = rl.perUser
				key = userClaims.Subject
				keyType = "user"
			}
		}
		if instance == nil {
			instance = rl.perIP
			key = c.ClientIP()
			keyType = "ip"
		}

		ctx := c.Request.Context()
		result, err := instance.Get(ctx, key)
		if err != nil {
			logging.Warn(ctx, "rate limiter store unavailable, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), keyType).Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": result.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
