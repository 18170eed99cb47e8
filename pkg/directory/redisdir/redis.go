// Package redisdir is the Redis-backed connection directory.
package redisdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JE-lee/whisper-comment/pkg/directory"
)

// Config for the Redis directory.
type Config struct {
	// Addr like "localhost:6379".
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every directory key.
	KeyPrefix string
	// TTL for all directory entries. Defaults to directory.DefaultTTL.
	TTL time.Duration
}

type Dir struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

var _ directory.Directory = (*Dir)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Dir, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = directory.DefaultTTL
	}
	return &Dir{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "directory_redis")),
	}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *slog.Logger) *Dir {
	if ttl <= 0 {
		ttl = directory.DefaultTTL
	}
	return &Dir{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "directory_redis")),
	}
}

func (d *Dir) Close() error { return d.client.Close() }

func (d *Dir) connKey(userToken string) string {
	return d.keyPrefix + directory.KeyConnPrefix + userToken
}

func (d *Dir) reverseKey(connectionID string) string {
	return d.keyPrefix + directory.KeyReversePrefix + connectionID
}

func (d *Dir) onlineKey(userToken string) string {
	return d.keyPrefix + directory.KeyOnlinePrefix + userToken
}

func (d *Dir) RegisterConnection(ctx context.Context, userToken, connectionID string) error {
	// The three keys are written in one pipeline. A crash mid-pipeline can
	// leave them momentarily inconsistent; they share one TTL and expire
	// together, so the state self-heals.
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.connKey(userToken), connectionID, d.ttl)
		pipe.Set(ctx, d.reverseKey(connectionID), userToken, d.ttl)
		pipe.Set(ctx, d.onlineKey(userToken), "1", d.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register connection %s: %w", connectionID, err)
	}
	return nil
}

func (d *Dir) UnregisterConnection(ctx context.Context, connectionID string) error {
	userToken, err := d.client.Get(ctx, d.reverseKey(connectionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("reverse lookup %s: %w", connectionID, err)
	}

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.connKey(userToken))
		pipe.Del(ctx, d.reverseKey(connectionID))
		pipe.Del(ctx, d.onlineKey(userToken))
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister connection %s: %w", connectionID, err)
	}
	return nil
}

func (d *Dir) ConnectionID(ctx context.Context, userToken string) (string, error) {
	id, err := d.client.Get(ctx, d.connKey(userToken)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("directory lookup failed, treating as offline",
				slog.String("userToken", userToken), slog.Any("error", err))
		}
		return "", nil
	}
	return id, nil
}

func (d *Dir) UserToken(ctx context.Context, connectionID string) (string, error) {
	token, err := d.client.Get(ctx, d.reverseKey(connectionID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("directory reverse lookup failed, treating as unknown",
				slog.String("connectionID", connectionID), slog.Any("error", err))
		}
		return "", nil
	}
	return token, nil
}

func (d *Dir) IsOnline(ctx context.Context, userToken string) (bool, error) {
	val, err := d.client.Get(ctx, d.onlineKey(userToken)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("online check failed, treating as offline",
				slog.String("userToken", userToken), slog.Any("error", err))
		}
		return false, nil
	}
	return val == "1", nil
}
