// Package redisstore keeps install check states in Redis, one JSON value per
// install.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/errx"
)

const (
	DefaultPrefix = "deeplink:state:"

	connectionTimeout = 5 * time.Second
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// ClientConfig holds Redis connection settings.
type ClientConfig struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(cfg ClientConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// Config controls key layout and expiry. A zero TTL keeps states forever.
type Config struct {
	Prefix string
	TTL    time.Duration
}

type repo struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func New(rdb redis.Cmdable, cfg Config) checkstate.Repository {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &repo{rdb: rdb, prefix: prefix, ttl: cfg.TTL}
}

func (r *repo) key(installID string) string {
	return r.prefix + installID
}

func (r *repo) Get(ctx context.Context, installID string) (checkstate.State, error) {
	const op = "redisstore.repo.Get"

	raw, err := r.rdb.Get(ctx, r.key(installID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return checkstate.State{}, nil
	}
	if err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, err)
	}

	var s checkstate.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, fmt.Errorf("decode state: %w", err))
	}
	return s, nil
}

func (r *repo) Put(ctx context.Context, installID string, s checkstate.State) error {
	const op = "redisstore.repo.Put"

	raw, err := json.Marshal(s)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	if err := r.rdb.Set(ctx, r.key(installID), raw, r.ttl).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, installID string) error {
	const op = "redisstore.repo.Delete"

	if err := r.rdb.Del(ctx, r.key(installID)).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}
