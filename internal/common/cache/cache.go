// Package cache is the generic get/set layer with per-entry expiry used to
// memoize query results.
package cache

import (
	"errors"
	"time"

	"github.com/bluele/gcache"
)

// Cache is a key/value store whose entries expire after a TTL.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Purge()
	Len() int
}

// TTL is an LRU-bounded cache backed by gcache.
type TTL struct {
	c gcache.Cache
}

// NewTTL returns a cache holding at most size entries.
func NewTTL(size int) *TTL {
	return &TTL{
		c: gcache.New(size).LRU().Build(),
	}
}

// newTTLWithClock lets tests advance time without sleeping.
func newTTLWithClock(size int, clock gcache.Clock) *TTL {
	return &TTL{
		c: gcache.New(size).LRU().Clock(clock).Build(),
	}
}

func (t *TTL) Get(key string) (interface{}, bool) {
	v, err := t.c.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set stores value under key. A non-positive ttl stores without expiry.
func (t *TTL) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		_ = t.c.Set(key, value)
		return
	}
	_ = t.c.SetWithExpire(key, value, ttl)
}

func (t *TTL) Purge() {
	t.c.Purge()
}

// Len counts live entries.
func (t *TTL) Len() int {
	return t.c.Len(true)
}
