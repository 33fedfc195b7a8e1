// Package cache provides the shared Redis client.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"colloquy/internal/observability"

	"github.com/redis/go-redis/v9"
)

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// ParseOptions accepts either a redis:// URL or a bare host:port.
func ParseOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// NewClient connects to Redis. A nil client is returned when Redis is not
// reachable; callers treat that as "run without Redis".
func NewClient(addr string) *redis.Client {
	opts, err := ParseOptions(addr)
	if err != nil {
		observability.Logger.Warn("Redis connection warning, continuing without Redis", slog.String("error", err.Error()))
		return nil
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		observability.Logger.Warn("Redis connection warning, continuing without Redis", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	observability.Logger.Info("Redis connected successfully")
	return client
}
