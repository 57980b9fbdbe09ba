package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/domain"
)

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Redis is the production Backend.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to Redis from either a URL or an address.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	var opts *redis.Options
	if strings.TrimSpace(cfg.URL) != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, errors.New("redis url or addr is required")
		}
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return NewRedisWithClient(client, cfg.Prefix, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

func (r *Redis) Append(ctx context.Context, platformID string, msg domain.Message) (domain.Message, error) {
	msg = stamp(msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.RPush(ctx, r.key("archive", platformID), payload).Err(); err != nil {
		return msg, fmt.Errorf("append to archive %s: %w", platformID, err)
	}
	return msg, nil
}

func (r *Redis) Recent(ctx context.Context, platformID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.lrange(ctx, platformID, int64(-n), -1)
}

func (r *Redis) All(ctx context.Context, platformID string) ([]domain.Message, error) {
	return r.lrange(ctx, platformID, 0, -1)
}

func (r *Redis) lrange(ctx context.Context, platformID string, start, stop int64) ([]domain.Message, error) {
	raw, err := r.client.LRange(ctx, r.key("archive", platformID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", platformID, err)
	}

	out := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			r.logger.Warn("skipping undecodable archive entry", zap.String("platform_id", platformID), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Redis) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	set, err := r.client.SetNX(ctx, r.key("dedup", key), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", key, err)
	}
	return !set, nil
}

func (r *Redis) Offset(ctx context.Context, name string) (string, error) {
	v, err := r.client.Get(ctx, r.key("offset", name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read offset %s: %w", name, err)
	}
	return v, nil
}

func (r *Redis) SetOffset(ctx context.Context, name, value string) error {
	if err := r.client.Set(ctx, r.key("offset", name), value, 0).Err(); err != nil {
		return fmt.Errorf("store offset %s: %w", name, err)
	}
	return nil
}

func (r *Redis) UserID(ctx context.Context, handle string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key("uid"), cacheHandle(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read user id for %s: %w", handle, err)
	}
	return v, true, nil
}

func (r *Redis) SetUserID(ctx context.Context, handle, id string) error {
	if err := r.client.HSet(ctx, r.key("uid"), cacheHandle(handle), id).Err(); err != nil {
		return fmt.Errorf("store user id for %s: %w", handle, err)
	}
	return nil
}
