package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kirillm/riskgate/internal/domain"
)

const (
	fieldLastScan  = "last_scan"
	fieldLastDaily = "last_daily"
)

// RedisScheduleStore запись планировщика в Redis hash, общая для нескольких процессов
type RedisScheduleStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisScheduleStore(client redis.Cmdable, prefix string) *RedisScheduleStore {
	if prefix == "" {
		prefix = "riskgate"
	}
	return &RedisScheduleStore{client: client, prefix: prefix}
}

func (s *RedisScheduleStore) key(tenantID string) string {
	return fmt.Sprintf("%s:schedule:%s", s.prefix, tenantID)
}

// Get пустой Schedule если записи нет
func (s *RedisScheduleStore) Get(ctx context.Context, tenantID string) (Schedule, error) {
	values, err := s.client.HGetAll(ctx, s.key(tenantID)).Result()
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: read schedule %s: %v", domain.ErrPersistence, tenantID, err)
	}

	var sched Schedule
	if v, ok := values[fieldLastScan]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sched.LastScan = &ts
		}
	}
	if v, ok := values[fieldLastDaily]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sched.LastDaily = &ts
		}
	}
	return sched, nil
}

func (s *RedisScheduleStore) MarkScan(ctx context.Context, tenantID string, at time.Time) error {
	return s.mark(ctx, tenantID, fieldLastScan, at)
}

func (s *RedisScheduleStore) MarkDaily(ctx context.Context, tenantID string, at time.Time) error {
	return s.mark(ctx, tenantID, fieldLastDaily, at)
}

func (s *RedisScheduleStore) mark(ctx context.Context, tenantID, field string, at time.Time) error {
	if err := s.client.HSet(ctx, s.key(tenantID), field, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("%w: write schedule %s: %v", domain.ErrPersistence, tenantID, err)
	}
	return nil
}

// NewRedisClient клиент из URL вида redis://:pass@host:6379/0
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
