package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Lookup results reported to an Observer.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultSharedHit = "shared_hit"
)

// Observer receives one call per lookup.
type Observer func(cache, result string)

type entry[T any] struct {
	value    T
	storedAt time.Time
}

type config struct {
	now      func() time.Time
	shared   *Shared
	observer Observer
	logger   *zap.Logger
}

// Option configures a ResponseCache.
type Option func(*config)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithShared adds a second tier shared between processes. Errors from it are
// logged and otherwise ignored.
func WithShared(s *Shared) Option {
	return func(c *config) { c.shared = s }
}

func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// ResponseCache is a process-local TTL cache. An entry is fresh while
// now-storedAt < ttl; stale entries are evicted on the read that finds them.
type ResponseCache[T any] struct {
	name string
	ttl  time.Duration
	cfg  config

	mu      sync.RWMutex
	entries map[string]entry[T]
	group   singleflight.Group
}

func NewResponseCache[T any](name string, ttl time.Duration, opts ...Option) *ResponseCache[T] {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return &ResponseCache[T]{
		name:    name,
		ttl:     ttl,
		cfg:     cfg,
		entries: make(map[string]entry[T]),
	}
}

func (c *ResponseCache[T]) Name() string       { return c.name }
func (c *ResponseCache[T]) TTL() time.Duration { return c.ttl }

// Get returns the fresh value for key.
func (c *ResponseCache[T]) Get(key string) (T, bool) {
	now := c.cfg.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && now.Sub(e.storedAt) < c.ttl {
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		// Another writer may have refreshed it in between.
		if cur, still := c.entries[key]; still && now.Sub(cur.storedAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	var zero T
	return zero, false
}

// Set stores value, overwriting any earlier entry.
func (c *ResponseCache[T]) Set(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, storedAt: c.cfg.now()}
	c.mu.Unlock()
}

func (c *ResponseCache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts stored entries, stale ones included.
func (c *ResponseCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops every stale entry and returns how many were removed.
func (c *ResponseCache[T]) Sweep() int {
	now := c.cfg.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done. A non-positive
// interval disables it.
func (c *ResponseCache[T]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.cfg.logger.Debug("cache sweep", zap.String("cache", c.name), zap.Int("removed", n))
				}
			}
		}
	}()
}

// Do returns the cached value for key or calls fn once for all concurrent
// callers missing the same key. Values are stored only when fn succeeds; on
// error fn's value is still returned so callers can inspect it. The bool
// reports whether the value came from a cache tier.
//
// fn runs detached from the caller's cancellation, so one caller giving up
// does not fail the others waiting on the same key. fn must bound its own
// work. A cancelled caller returns ctx.Err() immediately.
func (c *ResponseCache[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	if v, ok := c.Get(key); ok {
		c.observe(ResultHit)
		return v, true, nil
	}

	type outcome struct {
		value  T
		cached bool
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return outcome{value: v, cached: true}, nil
		}
		if c.cfg.shared != nil {
			var v T
			found, err := c.cfg.shared.Load(shared, c.sharedKey(key), &v)
			if err != nil {
				c.cfg.logger.Warn("shared cache read failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			}
			if found {
				c.Set(key, v)
				c.observe(ResultSharedHit)
				return outcome{value: v, cached: true}, nil
			}
		}

		c.observe(ResultMiss)
		v, err := fn(shared)
		if err != nil {
			return outcome{value: v}, err
		}
		c.Set(key, v)
		if c.cfg.shared != nil {
			if err := c.cfg.shared.Store(shared, c.sharedKey(key), v, c.ttl); err != nil {
				c.cfg.logger.Warn("shared cache write failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			}
		}
		return outcome{value: v}, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case r := <-ch:
		out, _ := r.Val.(outcome)
		return out.value, out.cached, r.Err
	}
}

func (c *ResponseCache[T]) sharedKey(key string) string {
	return c.name + ":" + key
}

func (c *ResponseCache[T]) observe(result string) {
	if c.cfg.observer != nil {
		c.cfg.observer(c.name, result)
	}
}
