// Package cache is the shared derived-result cache for fit, chance, and
// risk entries. Reads are lock-free; writes use a WATCH-based compare-and-
// swap on the entry's computed_at so a racing refresh job cannot clobber a
// newer result with an older one.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/model"
)

// Entry wraps a cached payload with its write stamp for CAS.
type Entry struct {
	Data       json.RawMessage `json:"data"`
	ComputedAt time.Time       `json:"computed_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Stats counts cache traffic; exported via prometheus in httpapi.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Sets         int64 `json:"sets"`
	Evictions    int64 `json:"evictions"`
	CASConflicts int64 `json:"cas_conflicts"`
}

// Cache is the derived-result cache interface consumed by the engine.
type Cache interface {
	// Get unmarshals the entry at key into dest. The second return is false
	// on miss or expiry.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Put stores value iff the existing entry's computed_at is not newer
	// than computedAt. Returns false when the CAS lost.
	Put(ctx context.Context, key string, value interface{}, computedAt time.Time, ttl time.Duration) (bool, error)

	// Delete removes keys (cache invalidation).
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes all keys under a prefix (bulk invalidation after
	// refresh jobs).
	DeletePrefix(ctx context.Context, prefix string) error

	// Stats returns traffic counters.
	Stats() Stats
}

// Key builders. One scheme for all derived results.

func FitKey(snapshotID string, collegeID int64) string {
	return fmt.Sprintf("fit:%s:%d", snapshotID, collegeID)
}

func ChanceKey(snapshotID string, collegeID int64) string {
	return fmt.Sprintf("chance:%s:%d", snapshotID, collegeID)
}

func RiskKey(userID, collegeID int64) string {
	return fmt.Sprintf("risk:%d:%d", userID, collegeID)
}

// UserFitPrefix covers every fit entry for a snapshot (invalidated when a
// profile write produces a new snapshot).
func SnapshotPrefix(snapshotID string) string {
	return fmt.Sprintf("fit:%s:", snapshotID)
}

// Redis implements Cache on go-redis.
type Redis struct {
	client    *redis.Client
	keyPrefix string

	mu    sync.Mutex
	stats Stats
}

// NewRedis builds a Redis cache with the standard pool and timeout settings.
func NewRedis(addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &Redis{client: client, keyPrefix: "admitpath:"}
}

// NewRedisWithClient wraps an existing client (tests).
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, keyPrefix: "admitpath:"}
}

func (r *Redis) key(k string) string { return r.keyPrefix + k }

func (r *Redis) bump(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

func (r *Redis) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.bump(func(s *Stats) { s.Misses++ })
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: purge and recompute from source.
		r.bump(func(s *Stats) { s.Evictions++ })
		_ = r.client.Del(ctx, r.key(key)).Err()
		return false, fmt.Errorf("cache entry %s: %w", key, model.ErrCacheCorruption)
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		r.bump(func(s *Stats) { s.Misses++; s.Evictions++ })
		_ = r.client.Del(ctx, r.key(key)).Err()
		return false, nil
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return false, fmt.Errorf("cache entry %s payload: %w", key, model.ErrCacheCorruption)
	}
	r.bump(func(s *Stats) { s.Hits++ })
	return true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value interface{}, computedAt time.Time, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value: %w", err)
	}
	entry := Entry{Data: payload, ComputedAt: computedAt}
	if ttl > 0 {
		entry.ExpiresAt = computedAt.Add(ttl)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal cache entry: %w", err)
	}

	fullKey := r.key(key)
	won := false
	txn := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, fullKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cur Entry
			if jsonErr := json.Unmarshal(existing, &cur); jsonErr == nil && cur.ComputedAt.After(computedAt) {
				// A newer result is already cached; lose the CAS quietly.
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, raw, ttl)
			won = true
			return nil
		})
		return err
	}

	// Retry once on WATCH conflict; a second conflict means a racing writer
	// holds a newer value.
	for attempt := 0; attempt < 2; attempt++ {
		err := r.client.Watch(ctx, txn, fullKey)
		if err == nil {
			if won {
				r.bump(func(s *Stats) { s.Sets++ })
			} else {
				r.bump(func(s *Stats) { s.CASConflicts++ })
			}
			return won, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			won = false
			continue
		}
		return false, fmt.Errorf("cache put %s: %w", key, err)
	}
	r.bump(func(s *Stats) { s.CASConflicts++ })
	return false, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	r.bump(func(s *Stats) { s.Evictions += int64(len(keys)) })
	return nil
}

func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache delete prefix %s: %w", prefix, err)
			}
			r.bump(func(s *Stats) { s.Evictions += int64(len(batch)) })
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan prefix %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache delete prefix %s: %w", prefix, err)
		}
		r.bump(func(s *Stats) { s.Evictions += int64(len(batch)) })
	}
	return nil
}

func (r *Redis) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close releases the redis connection pool.
func (r *Redis) Close() error { return r.client.Close() }

// Memory is an in-process Cache for tests and offline mode. Same CAS
// semantics as the redis implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	stats   Stats
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return false, nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		delete(m.entries, key)
		m.stats.Misses++
		m.stats.Evictions++
		return false, nil
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return false, fmt.Errorf("cache entry %s payload: %w", key, model.ErrCacheCorruption)
	}
	m.stats.Hits++
	return true, nil
}

func (m *Memory) Put(_ context.Context, key string, value interface{}, computedAt time.Time, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && cur.ComputedAt.After(computedAt) {
		m.stats.CASConflicts++
		return false, nil
	}
	entry := Entry{Data: payload, ComputedAt: computedAt}
	if ttl > 0 {
		entry.ExpiresAt = computedAt.Add(ttl)
	}
	m.entries[key] = entry
	m.stats.Sets++
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.entries[k]; ok {
			delete(m.entries, k)
			m.stats.Evictions++
		}
	}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.entries, k)
			m.stats.Evictions++
		}
	}
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// LogStats emits the current counters at debug level.
func LogStats(c Cache) {
	s := c.Stats()
	log.Debug().
		Int64("hits", s.Hits).
		Int64("misses", s.Misses).
		Int64("sets", s.Sets).
		Int64("evictions", s.Evictions).
		Int64("cas_conflicts", s.CASConflicts).
		Msg("cache stats")
}
