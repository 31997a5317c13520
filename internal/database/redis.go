package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"remnashop-bot/internal/config"
)

// ConnectRedis opens the client backing sessions, panel locks and reminder
// de-duplication, and fails when the server does not answer within
// DBTimeout.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	addr := net.JoinHostPort(cfg.RedisHost, cfg.RedisPort)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DialTimeout:  cfg.DBTimeout,
		ReadTimeout:  cfg.DBTimeout,
		WriteTimeout: cfg.DBTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	slog.Info("connected to redis", "addr", addr)
	return rdb, nil
}
