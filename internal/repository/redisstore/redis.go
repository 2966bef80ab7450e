package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
)

const defaultPrefix = "pagesmith:deployment:"

// commander is the subset of *redis.Client the store needs.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Store keeps deployment records as JSON strings in Redis. Keys carry no TTL.
type Store struct {
	client  commander
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

var (
	_ repository.DeploymentStore = (*Store)(nil)
	_ repository.HealthChecker   = (*Store)(nil)
)

// New connects to Redis and verifies the connection with a PING.
func New(addr, password string, db int, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newStore(client, logger), nil
}

func newStore(client commander, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:  client,
		logger:  logger,
		prefix:  defaultPrefix,
		timeout: 500 * time.Millisecond,
	}
}

// Get loads the record for task.
func (s *Store) Get(ctx context.Context, task string) (domain.DeploymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+task).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DeploymentRecord{}, repository.ErrNotFound
		}
		s.logger.Error("redis status store error", "op", "get", "task", task, "error", err)
		return domain.DeploymentRecord{}, fmt.Errorf("load record: %w", err)
	}
	var rec domain.DeploymentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.DeploymentRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Put overwrites the record for task.
func (s *Store) Put(ctx context.Context, task string, record domain.DeploymentRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+task, payload, 0).Err(); err != nil {
		s.logger.Error("redis status store error", "op", "set", "task", task, "error", err)
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
