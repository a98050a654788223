package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/config"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/redis/go-redis/v9"
)

// publicLimiter guards the unauthenticated routes. With REDIS_ADDR set the
// budget is shared across replicas; otherwise each process counts alone.
func publicLimiter(ctx context.Context, logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	window := time.Minute

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		logger.Info("public rate limiter in memory", "limit", limit, "window", window.String())
		return httpx.NewRateLimiter(limit, window).Middleware()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	go func() {
		<-ctx.Done()
		_ = rdb.Close()
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; limiter fails open until it recovers", "err", err, "addr", addr)
	}
	logger.Info("public rate limiter in redis", "addr", addr, "limit", limit, "window", window.String())
	return httpx.NewRedisRateLimiter(rdb, limit, window, "bookslots:rl").Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
}
