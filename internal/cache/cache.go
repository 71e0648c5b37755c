// Package cache keeps expensive directory lookups (custom fields, users) in
// a JSON side-file so later jobs against the same instance can skip them.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// Categories stored in the side-file.
const (
	CategoryCustomFields = "custom_fields"
	CategoryUsers        = "users"
)

// Entry is one cached value of one source instance.
type Entry struct {
	Name  string          `json:"name"` // Source instance, e.g. the Jira base URL
	Value json.RawMessage `json:"value"`
	Time  time.Time       `json:"time"` // Expiry
}

// Cache is an expiring store of JSON values keyed by category and instance.
// It is safe for concurrent use.
type Cache struct {
	path string
	ttl  time.Duration
	log  zerolog.Logger
	now  func() time.Time

	mu   sync.Mutex
	data map[string][]Entry
}

// Open loads the side-file at path. A missing or unreadable file yields an
// empty cache. A ttl of zero disables caching.
func Open(path string, ttl time.Duration, log zerolog.Logger) *Cache {
	c := &Cache{
		path: path,
		ttl:  ttl,
		log:  log.With().Str("component", "cache").Logger(),
		now:  time.Now,
		data: make(map[string][]Entry),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", path).Msg("cannot read cache; starting empty")
		}
		return c
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("ignoring corrupt cache")
		c.data = make(map[string][]Entry)
	}
	return c
}

// Enabled reports whether values are cached at all.
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Get decodes the unexpired value of category for instance into out.
// It reports whether a value was found.
func (c *Cache) Get(category, instance string, out any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.data[category] {
		if e.Name != instance {
			continue
		}
		if !c.now().Before(e.Time) {
			c.log.Debug().Str("category", category).Msg("cache entry expired")
			return false, nil
		}
		if err := json.Unmarshal(e.Value, out); err != nil {
			return false, fmt.Errorf("decode cached %s: %w", category, err)
		}
		return true, nil
	}
	return false, nil
}

// Put stores value for instance under category and rewrites the side-file.
// Expired entries of every category are dropped on the way.
func (c *Cache) Put(category, instance string, value any) error {
	if !c.Enabled() {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", category, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for cat, entries := range c.data {
		kept := entries[:0]
		for _, e := range entries {
			if now.Before(e.Time) && !(cat == category && e.Name == instance) {
				kept = append(kept, e)
			}
		}
		c.data[cat] = kept
	}
	c.data[category] = append(c.data[category], Entry{Name: instance, Value: raw, Time: now.Add(c.ttl)})

	return c.flush()
}

func (c *Cache) flush() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := atomic.WriteFile(c.path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
