package ratelimit

import (
	"strings"

	"github.com/lunahealth/lumen/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewChargeLimiter,
		NewUserLocker,
	),
)

// NewRedisClient returns nil when no address is configured; consumers fall
// back to their in-process implementations.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	log.Named("ratelimit").Info("using redis", zap.String("addr", addr))
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewUserLocker(client *redis.Client) UserLocker {
	if client != nil {
		return NewRedisLocker(client)
	}
	return NewMemoryLocker()
}
