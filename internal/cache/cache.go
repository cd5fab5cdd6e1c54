// Package cache is an in-process read-through cache of JSON blobs.
//
// Entries carry tags naming the entities they were built from. A mutation
// invalidates the tags of the entities it touched, which drops every entry
// derived from them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Collection tags.
const (
	TagEvents = "events"
	TagTeams  = "teams"
	TagSlots  = "slots"
	TagUsers  = "users"
)

// EventTag, SlotTag, TeamTag and UserTag name single entities.
func EventTag(id int64) string   { return fmt.Sprintf("event:%d", id) }
func SlotTag(id int64) string    { return fmt.Sprintf("slot:%d", id) }
func TeamTag(code string) string { return "team:" + code }
func UserTag(id int64) string    { return fmt.Sprintf("user:%d", id) }

type entry struct {
	data    []byte
	expires time.Time // zero = never
	tags    []string
}

// Cache stores JSON encoded values by key.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	byTag   map[string]map[string]struct{}
	// gen is bumped by every invalidation. A producer that started before
	// an invalidation does not store its result.
	gen   uint64
	group singleflight.Group
	now   func() time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get decodes the value stored under key into dst. It reports false on a
// miss or an expired entry.
func (c *Cache) Get(key string, dst any) (bool, error) {
	data, ok := c.lookup(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.remove(key)
		return nil, false
	}
	return e.data, true
}

// Put stores v under key for ttl (0 keeps it until invalidated).
func (c *Cache) Put(key string, v any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	c.mu.Lock()
	c.store(key, data, ttl, tags)
	c.mu.Unlock()
	return nil
}

// store must be called with mu held.
func (c *Cache) store(key string, data []byte, ttl time.Duration, tags []string) {
	c.remove(key)
	e := entry{data: data, tags: tags}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	for _, t := range tags {
		keys, ok := c.byTag[t]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}
}

// remove must be called with mu held.
func (c *Cache) remove(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, t := range e.tags {
		delete(c.byTag[t], key)
		if len(c.byTag[t]) == 0 {
			delete(c.byTag, t)
		}
	}
}

// Forget drops one key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	c.remove(key)
	c.gen++
	c.mu.Unlock()
}

// Invalidate drops every entry carrying any of tags.
func (c *Cache) Invalidate(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tags {
		for key := range c.byTag[t] {
			c.remove(key)
		}
	}
	c.gen++
}

// Len returns the number of live and expired-but-unread entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InvalidateEvent drops entries built from an event and its slot.
func (c *Cache) InvalidateEvent(eventID, slotID int64) {
	c.Invalidate(EventTag(eventID), SlotTag(slotID), TagEvents)
}

// InvalidateSlot drops entries built from a slot.
func (c *Cache) InvalidateSlot(slotID int64) {
	c.Invalidate(SlotTag(slotID), TagSlots, TagEvents)
}

// InvalidateTeam drops entries built from a team.
func (c *Cache) InvalidateTeam(code string) {
	c.Invalidate(TeamTag(code), TagTeams)
}

// InvalidateUser drops entries built from a user, including listings
// that show user names.
func (c *Cache) InvalidateUser(id int64) {
	c.Invalidate(UserTag(id), TagUsers)
}

// Remember returns the value under key, calling produce on a miss and
// storing its result for ttl. Concurrent misses on one key share a single
// produce call.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, tags []string, produce func(context.Context) (T, error)) (T, error) {
	var out T
	if ok, err := c.Get(key, &out); err == nil && ok {
		return out, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		fresh, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("cache encode %s: %w", key, err)
		}
		c.mu.Lock()
		if c.gen == gen {
			c.store(key, data, ttl, tags)
		}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(v.([]byte), &out); err != nil {
		return out, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return out, nil
}
