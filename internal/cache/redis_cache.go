package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"

	"churn-insight/internal/logger"
)

// UpdatesChannel carries pipeline events between server instances.
const UpdatesChannel = "pipeline_updates"

// Key prefixes of cached dashboard reads. Every prefix is dropped when a
// pipeline event arrives.
const (
	PrefixSegments  = "segments:"
	PrefixCustomers = "customers:"
	PrefixRuns      = "runs:"
	PrefixRateLimit = "ratelimit:"
)

var invalidatedPrefixes = []string{PrefixSegments, PrefixCustomers, PrefixRuns}

const opTimeout = 5 * time.Second

// CacheManager is a local go-cache in front of an optional redis. Without
// redis every operation stays in process.
type CacheManager struct {
	redisClient *redis.Client
	localCache  *cache.Cache
	pubSub      *redis.PubSub
	ttl         time.Duration
	log         *logger.Logger

	mu       sync.Mutex
	counters map[string]int64
}

// Update is the payload published on UpdatesChannel.
type Update struct {
	Action    string `json:"action"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewCacheManager connects to redisURL when it is set and reachable, and
// subscribes to pipeline updates.
func NewCacheManager(redisURL string, ttl time.Duration, log *logger.Logger) *CacheManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cm := &CacheManager{
		localCache: cache.New(ttl, 2*ttl),
		ttl:        ttl,
		log:        log.With("component", "cache"),
		counters:   map[string]int64{},
	}
	if redisURL == "" {
		cm.log.Info("redis not configured, using local cache only")
		return cm
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cm.log.Warn("redis connection failed, using local cache only", "error", err)
		_ = client.Close()
		return cm
	}
	cm.log.Info("redis connection established")
	cm.redisClient = client
	cm.pubSub = client.Subscribe(context.Background(), UpdatesChannel)
	go cm.listenForUpdates()
	return cm
}

func (cm *CacheManager) listenForUpdates() {
	for msg := range cm.pubSub.Channel() {
		cm.handleUpdateMessage(msg.Payload)
	}
}

func (cm *CacheManager) handleUpdateMessage(payload string) {
	var update Update
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		cm.log.Warn("failed to parse update message", "error", err)
		return
	}
	cm.invalidateLocal()
	cm.log.Debug("cache invalidated", "action", update.Action, "run_id", update.RunID)
}

func (cm *CacheManager) invalidateLocal() {
	for key := range cm.localCache.Items() {
		for _, p := range invalidatedPrefixes {
			if strings.HasPrefix(key, p) {
				cm.localCache.Delete(key)
				break
			}
		}
	}
}

// Set stores value as JSON under key for the default TTL.
func (cm *CacheManager) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	cm.localCache.Set(key, data, cm.ttl)
	if cm.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return cm.redisClient.Set(ctx, key, data, cm.ttl).Err()
}

// Get decodes the cached value into target and reports whether it was found.
func (cm *CacheManager) Get(ctx context.Context, key string, target any) (bool, error) {
	if val, found := cm.localCache.Get(key); found {
		return true, json.Unmarshal(val.([]byte), target)
	}
	if cm.redisClient == nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	data, err := cm.redisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, err
	}
	cm.localCache.Set(key, data, cm.ttl)
	return true, json.Unmarshal(data, target)
}

func (cm *CacheManager) Delete(ctx context.Context, key string) error {
	cm.localCache.Delete(key)
	if cm.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return cm.redisClient.Del(ctx, key).Err()
}

// Increment bumps a counter that expires window after its first increment.
func (cm *CacheManager) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if cm.redisClient != nil {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		n, err := cm.redisClient.Incr(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if n == 1 {
			cm.redisClient.Expire(ctx, key, window)
		}
		return n, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, live := cm.localCache.Get(key); !live {
		cm.counters[key] = 0
		cm.localCache.Set(key, []byte("null"), window)
	}
	cm.counters[key]++
	return cm.counters[key], nil
}

// Invalidate drops every cached dashboard read here and on other instances.
func (cm *CacheManager) Invalidate(ctx context.Context, action, runID string) {
	cm.invalidateLocal()
	if cm.redisClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for _, p := range invalidatedPrefixes {
		iter := cm.redisClient.Scan(ctx, 0, p+"*", 100).Iterator()
		for iter.Next(ctx) {
			cm.redisClient.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			cm.log.Warn("redis scan failed", "prefix", p, "error", err)
		}
	}

	data, _ := json.Marshal(Update{Action: action, RunID: runID, Timestamp: time.Now().Unix()})
	if err := cm.redisClient.Publish(ctx, UpdatesChannel, data).Err(); err != nil {
		cm.log.Warn("publish cache update failed", "error", err)
	}
}

func (cm *CacheManager) IsAvailable() bool {
	return cm.redisClient != nil
}

func (cm *CacheManager) Close() error {
	if cm.pubSub != nil {
		_ = cm.pubSub.Close()
	}
	if cm.redisClient != nil {
		return cm.redisClient.Close()
	}
	return nil
}
