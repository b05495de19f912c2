package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures per-IP rate limiting. RequestsPerSecond<=0 disables it.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL 是单个 IP 限流器在无请求后保留的时长。
	IdleTTL time.Duration
}

// rateLimiterMap 以 IP 为键缓存限流器，空闲超时后自动淘汰。
type rateLimiterMap struct {
	limiters *cache.Cache
	config   RateLimiterConfig
}

func newRateLimiterMap(config RateLimiterConfig) *rateLimiterMap {
	if config.Burst <= 0 {
		config.Burst = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &rateLimiterMap{
		limiters: cache.New(config.IdleTTL, config.IdleTTL),
		config:   config,
	}
}

func (rl *rateLimiterMap) getLimiter(ip string) *rate.Limiter {
	if v, ok := rl.limiters.Get(ip); ok {
		limiter := v.(*rate.Limiter)
		rl.limiters.SetDefault(ip, limiter)
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
	if err := rl.limiters.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		// 并发创建时以先写入的为准
		if v, ok := rl.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// RateLimiter 超限时返回 429 和 Retry-After。
func RateLimiter(config RateLimiterConfig) gin.HandlerFunc {
	if config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newRateLimiterMap(config)
	return func(c *gin.Context) {
		limiter := limiters.getLimiter(c.ClientIP())
		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := reservation.DelayFrom(time.Now())
			reservation.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please retry later",
			})
			return
		}
		c.Next()
	}
}
