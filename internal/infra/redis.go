package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/loyalpass/loyalpass/internal/config"
)

func redisOptions(cfg config.Config) (*redis.Options, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		opt.DialTimeout = cfg.ConnectTimeout
	}
	if opt.ClientName == "" {
		opt.ClientName = cfg.AppName
	}
	return opt, nil
}

// NewRedisClient connects the client used for replay nonces, idempotency keys and
// rate-limit windows.
func NewRedisClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := withTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connected", slog.String("addr", opt.Addr), slog.Int("db", opt.DB))
	return client, nil
}
