package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lunahealth/lumen/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyCharge = "lumen:charge:%s"

// ChargeLimiter throttles metered operations per user. It rides redis when
// an address is configured and falls back to an in-process bucket otherwise.
type ChargeLimiter struct {
	enabled bool

	bucket *TokenBucket
	memory *memoryBuckets

	rate  float64
	burst int
}

func NewChargeLimiter(cfg config.Config, client *redis.Client) *ChargeLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}

	rate := limitCfg.ChargeRate
	if rate <= 0 {
		rate = 1
	}
	burst := limitCfg.ChargeBurst
	if burst <= 0 {
		burst = 5
	}

	limiter := &ChargeLimiter{
		enabled: true,
		rate:    rate,
		burst:   burst,
	}
	if client != nil {
		limiter.bucket = NewTokenBucket(client)
	} else {
		limiter.memory = newMemoryBuckets()
	}
	return limiter
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ChargeLimiter) Allow(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCharge, strings.TrimSpace(userID))
	if l.bucket != nil {
		return l.bucket.Allow(ctx, key, l.rate, l.burst)
	}
	return l.memory.allow(key, l.rate, l.burst), nil
}

type memoryBucket struct {
	tokens float64
	ts     time.Time
}

type memoryBuckets struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

func newMemoryBuckets() *memoryBuckets {
	return &memoryBuckets{buckets: make(map[string]*memoryBucket)}
}

func (m *memoryBuckets) allow(key string, rate float64, burst int) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: float64(burst), ts: now}
		m.buckets[key] = b
	} else {
		delta := now.Sub(b.ts).Seconds()
		if delta > 0 {
			b.tokens = math.Min(float64(burst), b.tokens+delta*rate)
		}
		b.ts = now
	}

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}

	retryAfter := time.Duration(0)
	if !allowed {
		if needed := 1.0 - b.tokens; needed > 0 {
			retryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}

	return &Result{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(b.tokens),
		RetryAfter: retryAfter,
	}
}
