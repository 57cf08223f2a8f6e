package livestore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLiveBarTTL = 5 * time.Minute

	connectionStateKey = "gateway:connection_state"
)

// RedisLiveBarStore shares the gateway's in-flight state with the api process:
// the open (unsealed) bar per (instrument, timeframe) and the latest connection
// state change. Keys expire so a dead gateway does not serve stale live bars.
type RedisLiveBarStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLiveBarStore(cacheDSN string, ttl time.Duration) (*RedisLiveBarStore, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis cache_dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultLiveBarTTL
	}

	return &RedisLiveBarStore{client: redis.NewClient(options), ttl: ttl}, nil
}

func liveBarKey(instrumentID string, timeframe entity.Timeframe) string {
	return fmt.Sprintf("livebar:%s:%s", instrumentID, timeframe)
}

func (s *RedisLiveBarStore) SaveCurrent(ctx context.Context, bar entity.Bar) error {
	payload, err := json.Marshal(bar)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, liveBarKey(bar.InstrumentID, bar.Timeframe), payload, s.ttl).Err()
}

// LiveBars satisfies the series merger's live source.
func (s *RedisLiveBarStore) LiveBars(ctx context.Context, instrumentID string, timeframe entity.Timeframe) ([]entity.Bar, error) {
	raw, err := s.client.Get(ctx, liveBarKey(instrumentID, timeframe)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var bar entity.Bar
	if err := json.Unmarshal([]byte(raw), &bar); err != nil {
		return nil, err
	}

	return []entity.Bar{bar}, nil
}

func (s *RedisLiveBarStore) SaveConnectionState(ctx context.Context, change entity.ConnectionStateChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, connectionStateKey, payload, 0).Err()
}

func (s *RedisLiveBarStore) LoadConnectionState(ctx context.Context) (entity.ConnectionStateChange, bool, error) {
	raw, err := s.client.Get(ctx, connectionStateKey).Result()
	if err != nil {
		if err == redis.Nil {
			return entity.ConnectionStateChange{}, false, nil
		}
		return entity.ConnectionStateChange{}, false, err
	}

	var change entity.ConnectionStateChange
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return entity.ConnectionStateChange{}, false, err
	}

	return change, true, nil
}

func (s *RedisLiveBarStore) Close() error {
	return s.client.Close()
}
