package roster

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KV is the slice of Redis the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// ErrCacheMiss is returned by KV.Get when the key is absent.
var ErrCacheMiss = errors.New("roster: cache miss")

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	Client *redis.Client
}

// Get returns ErrCacheMiss for redis.Nil.
func (k RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := k.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

// Set stores value with ttl.
func (k RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return k.Client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys.
func (k RedisKV) Del(ctx context.Context, keys ...string) error {
	return k.Client.Del(ctx, keys...).Err()
}

// Cached is a read-through cache in front of a slower Lookup. Cache failures
// are logged and fall through to the backing roster.
type Cached struct {
	next   Lookup
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next.
func NewCached(next Lookup, kv KV, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, kv: kv, ttl: ttl, logger: logger}
}

const (
	studentKeyPrefix = "roster:student:"
	allKey           = "roster:all"
	missingMarker    = "-"
)

// LookupByID implements Lookup. Misses are cached too, so repeated scans of an
// unknown code do not hit the database every frame.
func (c *Cached) LookupByID(ctx context.Context, id string) (StudentRecord, bool, error) {
	key := studentKeyPrefix + id
	if raw, err := c.kv.Get(ctx, key); err == nil {
		if raw == missingMarker {
			return StudentRecord{}, false, nil
		}
		var rec StudentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return rec, true, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("roster cache get failed", zap.String("key", key), zap.Error(err))
	}

	rec, ok, err := c.next.LookupByID(ctx, id)
	if err != nil {
		return StudentRecord{}, false, err
	}
	value := missingMarker
	if ok {
		data, _ := json.Marshal(rec)
		value = string(data)
	}
	if err := c.kv.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("roster cache set failed", zap.String("key", key), zap.Error(err))
	}
	return rec, ok, nil
}

// All implements Lookup.
func (c *Cached) All(ctx context.Context) ([]StudentRecord, error) {
	if raw, err := c.kv.Get(ctx, allKey); err == nil {
		var recs []StudentRecord
		if err := json.Unmarshal([]byte(raw), &recs); err == nil {
			return recs, nil
		}
	}
	recs, err := c.next.All(ctx)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(recs)
	if err := c.kv.Set(ctx, allKey, string(data), c.ttl); err != nil {
		c.logger.Warn("roster cache set failed", zap.String("key", allKey), zap.Error(err))
	}
	return recs, nil
}

// ErrReadOnly is returned when writing through a cache whose backing roster
// cannot be written.
var ErrReadOnly = errors.New("roster: backing roster is read-only")

// Upsert writes through to the backing roster and drops the affected keys.
func (c *Cached) Upsert(ctx context.Context, rec StudentRecord) error {
	w, ok := c.next.(Writer)
	if !ok {
		return ErrReadOnly
	}
	if err := w.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := c.kv.Del(ctx, studentKeyPrefix+rec.ID, allKey); err != nil {
		c.logger.Warn("roster cache invalidate failed", zap.String("student_id", rec.ID), zap.Error(err))
	}
	return nil
}
