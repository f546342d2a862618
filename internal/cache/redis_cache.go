package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const usageChannel = "usage_updates"

// Manager layers an instance-local map over an optional shared redis. Redis
// being down degrades to local-only operation instead of failing requests.
type Manager struct {
	redisClient *redis.Client
	localCache  *gocache.Cache
	logger      *zap.Logger
}

// UsageUpdate is published whenever an installation's counters change, so
// connected ops dashboards see activity live.
type UsageUpdate struct {
	Action    string `json:"action"`
	InstallID string `json:"install_id"`
	Language  string `json:"language"`
	Words     int    `json:"words"`
	Timestamp int64  `json:"timestamp"`
}

// NewLocalManager builds a manager without a redis connection, for tests and
// single-instance deployments.
func NewLocalManager(logger *zap.Logger) *Manager {
	return &Manager{
		localCache: gocache.New(5*time.Minute, 10*time.Minute),
		logger:     logger,
	}
}

func NewManager(redisURL string, logger *zap.Logger) *Manager {
	m := &Manager{
		localCache: gocache.New(5*time.Minute, 10*time.Minute),
		logger:     logger,
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using local cache only", zap.Error(err))
	} else {
		m.redisClient = client
		logger.Info("redis connection established")
	}

	return m
}

func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.localCache.Set(key, value, ttl)

	if m.redisClient != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return m.redisClient.Set(ctx, key, data, ttl).Err()
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if val, found := m.localCache.Get(key); found {
		data, err := json.Marshal(val)
		if err != nil {
			return false, err
		}
		return true, json.Unmarshal(data, target)
	}

	if m.redisClient != nil {
		data, err := m.redisClient.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return false, nil
		} else if err != nil {
			return false, err
		}

		// Populate the local tier for subsequent hits on this instance.
		m.localCache.Set(key, json.RawMessage(data), 5*time.Minute)

		return true, json.Unmarshal(data, target)
	}

	return false, nil
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	m.localCache.Delete(key)
	if m.redisClient != nil {
		return m.redisClient.Del(ctx, key).Err()
	}
	return nil
}

// IncrementWithTTL bumps a counter key, setting its expiry on first use.
// Backs the /config IP rate limiter.
func (m *Manager) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m.redisClient != nil {
		count, err := m.redisClient.Incr(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if count == 1 {
			m.redisClient.Expire(ctx, key, ttl)
		}
		return count, nil
	}

	var current int64
	if val, found := m.localCache.Get(key); found {
		current = val.(int64)
	}
	current++
	m.localCache.Set(key, current, ttl)
	return current, nil
}

// PublishUsage broadcasts a usage update on the shared channel. Best effort;
// a missing redis just drops the event.
func (m *Manager) PublishUsage(ctx context.Context, update UsageUpdate) {
	if m.redisClient == nil {
		return
	}
	update.Timestamp = time.Now().Unix()
	data, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := m.redisClient.Publish(ctx, usageChannel, data).Err(); err != nil {
		m.logger.Warn("usage publish failed", zap.Error(err))
	}
}

// SubscribeUsage delivers usage updates published by any instance. Returns
// nil when redis is unavailable.
func (m *Manager) SubscribeUsage(ctx context.Context) <-chan UsageUpdate {
	if m.redisClient == nil {
		return nil
	}

	sub := m.redisClient.Subscribe(ctx, usageChannel)
	out := make(chan UsageUpdate, 16)

	go func() {
		defer close(out)
		defer sub.Close()
		for msg := range sub.Channel() {
			var update UsageUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				m.logger.Warn("malformed usage update", zap.Error(err))
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (m *Manager) IsAvailable() bool {
	return m.redisClient != nil
}
