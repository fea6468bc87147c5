package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed coordination store.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Store holds the fast-changing coordination state: availability flags,
// rotation counters, the pending-request queue and match proposals. Slow
// directory records live in Mongo, not here.
type Store struct {
	rdb *redis.Client
}

func New(c Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
