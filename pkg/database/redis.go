package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidmoltin/site-integrations/pkg/config"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// RedisClient holds the shared connection used by the query cache
type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient dials Redis, installs the slow-command hook and pings once
func NewRedisClient(cfg *config.Config, log *logger.Logger) (*RedisClient, error) {
	dialTimeout := cfg.Redis.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: dialTimeout,
	})
	client.AddHook(newSlowCommandHook(log.WithComponent("redis"), cfg.Redis.SlowThreshold))

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr(), err)
	}

	log.Info("Redis connection established",
		logger.String("addr", cfg.RedisAddr()),
		logger.Int("db", cfg.Redis.DB),
		logger.Int("pool_size", cfg.Redis.PoolSize),
	)

	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// HealthCheck pings Redis and reports pool exhaustion as an error
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return err
	}
	if stats := r.Client.PoolStats(); stats != nil && stats.Timeouts > 0 && stats.IdleConns == 0 && stats.TotalConns > 0 {
		return fmt.Errorf("redis pool exhausted: %d connections busy, %d timeouts", stats.TotalConns, stats.Timeouts)
	}
	return nil
}

// slowCommandHook logs commands and pipelines that exceed a latency threshold.
// A zero threshold disables it.
type slowCommandHook struct {
	log       *logger.Logger
	threshold time.Duration
}

func newSlowCommandHook(log *logger.Logger, threshold time.Duration) *slowCommandHook {
	return &slowCommandHook{log: log, threshold: threshold}
}

func (h *slowCommandHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.log.Warn("Redis dial failed", logger.String("addr", addr), logger.Err(err))
		}
		return conn, err
	}
}

func (h *slowCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), 1, time.Since(start), err)
		return err
	}
}

func (h *slowCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", len(cmds), time.Since(start), err)
		return err
	}
}

func (h *slowCommandHook) observe(name string, count int, elapsed time.Duration, err error) {
	if h.threshold <= 0 || elapsed < h.threshold {
		return
	}
	fields := []logger.Field{
		logger.String("command", name),
		logger.Int("commands", count),
		logger.Duration("elapsed", elapsed),
	}
	if err != nil && err != redis.Nil {
		fields = append(fields, logger.Err(err))
	}
	h.log.Warn("Slow Redis command", fields...)
}
