package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
)

// Cache provides Redis-backed read caching for the dashboard and the
// shared request-slot reservation used by the platform pacer
type Cache struct {
	client *redis.Client
	cfg    *config.RedisConfig
	logger *slog.Logger
}

// NewCache creates a new Redis cache
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func statsKey(studentID string) string {
	return fmt.Sprintf("student:%s:stats", studentID)
}

func lookupKey(handle string) string {
	return fmt.Sprintf("lookup:%s", handle)
}

func slotKey(pf domain.Platform) string {
	return fmt.Sprintf("platform:%s:slot", pf)
}

// GetCurrentStats returns a student's cached stats rows, or nil on miss
func (c *Cache) GetCurrentStats(ctx context.Context, studentID string) ([]domain.CurrentStats, error) {
	data, err := c.client.Get(ctx, statsKey(studentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cached stats: %w", err)
	}
	var stats []domain.CurrentStats
	if err := json.Unmarshal(data, &stats); err != nil {
		// A corrupt entry is a miss, not a failure
		c.logger.Warn("dropping corrupt stats cache entry", "student_id", studentID)
		return nil, nil
	}
	return stats, nil
}

// SetCurrentStats caches a student's stats rows
func (c *Cache) SetCurrentStats(ctx context.Context, studentID string, stats []domain.CurrentStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	if err := c.client.Set(ctx, statsKey(studentID), data, c.cfg.StatsTTL).Err(); err != nil {
		return fmt.Errorf("caching stats: %w", err)
	}
	return nil
}

// InvalidateCurrentStats drops a student's cached stats after a sync
func (c *Cache) InvalidateCurrentStats(ctx context.Context, studentID string) error {
	if err := c.client.Del(ctx, statsKey(studentID)).Err(); err != nil {
		return fmt.Errorf("invalidating stats cache: %w", err)
	}
	return nil
}

// GetLookup returns a cached handle lookup, or nil on miss
func (c *Cache) GetLookup(ctx context.Context, handle string) ([]domain.HandleStats, error) {
	data, err := c.client.Get(ctx, lookupKey(handle)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cached lookup: %w", err)
	}
	var rows []domain.HandleStats
	if err := json.Unmarshal(data, &rows); err != nil {
		c.logger.Warn("dropping corrupt lookup cache entry", "handle", handle)
		return nil, nil
	}
	return rows, nil
}

// SetLookup caches a handle lookup result
func (c *Cache) SetLookup(ctx context.Context, handle string, rows []domain.HandleStats) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling lookup: %w", err)
	}
	if err := c.client.Set(ctx, lookupKey(handle), data, c.cfg.LookupTTL).Err(); err != nil {
		return fmt.Errorf("caching lookup: %w", err)
	}
	return nil
}

// ReserveRequestSlot reserves the platform's outbound request slot for
// the spacing duration. Returns false when another process holds it.
func (c *Cache) ReserveRequestSlot(ctx context.Context, pf domain.Platform, spacing time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, slotKey(pf), time.Now().UnixMilli(), spacing).Result()
	if err != nil {
		return false, fmt.Errorf("reserving request slot: %w", err)
	}
	return ok, nil
}
