package storage

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.storefront.dev/core/async"
)

// CachedBackend decorates a Backend with an LRU cache of read values.
// Writes pass through to the Backend and update the cache, so the cache is
// consistent with writes made through the CachedBackend. Changes made by
// other writers are observed only once the key is evicted or Invalidated.
type CachedBackend struct {
	Backend
	cache *lru.Cache
}

// NewCachedBackend returns a CachedBackend caching up to |size| items of |backend|.
func NewCachedBackend(backend Backend, size int) (*CachedBackend, error) {
	var cache, err = lru.New(size)
	if err != nil {
		return nil, errors.WithMessage(err, "building LRU cache")
	}
	return &CachedBackend{Backend: backend, cache: cache}, nil
}

// cachedItem is a cached GetItem result, which may be an absent key.
type cachedItem struct {
	value string
	ok    bool
}

// GetItem implements Backend.
func (b *CachedBackend) GetItem(key string) (string, bool, error) {
	if v, ok := b.cache.Get(key); ok {
		var item = v.(cachedItem)
		return item.value, item.ok, nil
	}
	var value, ok, err = b.Backend.GetItem(key)
	if err == nil {
		b.cache.Add(key, cachedItem{value: value, ok: ok})
	}
	return value, ok, err
}

// SetItem implements Backend.
func (b *CachedBackend) SetItem(key, value string) error {
	if err := b.Backend.SetItem(key, value); err != nil {
		b.cache.Remove(key)
		return err
	}
	b.cache.Add(key, cachedItem{value: value, ok: true})
	return nil
}

// RemoveItem implements Backend.
func (b *CachedBackend) RemoveItem(key string) error {
	var err = b.Backend.RemoveItem(key)
	b.cache.Remove(key)
	return err
}

// Invalidate drops any cached value of |key|.
func (b *CachedBackend) Invalidate(key string) { b.cache.Remove(key) }

// Keys implements Lister, if the wrapped Backend does.
func (b *CachedBackend) Keys(prefix string) ([]string, error) {
	if l, ok := b.Backend.(Lister); ok {
		return l.Keys(prefix)
	}
	return nil, errors.New("backend does not support listing keys")
}

// Events implements Watcher. It returns nil if the wrapped Backend isn't a
// Watcher. Events are not filtered by the cache: a Sync observing an Event
// Invalidates the key before reading it.
func (b *CachedBackend) Events() async.Observable[Event] {
	if w, ok := b.Backend.(Watcher); ok {
		return w.Events()
	}
	return nil
}
