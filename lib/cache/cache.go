package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
)

// Cache holds the persisted key set and the expiration index.
//
// Thread-safety: all methods are safe for concurrent use. Resync swaps the
// key set as a whole so readers always see either the old or the new set,
// never a partially rebuilt one.
type Cache struct {
	persisted   atomic.Pointer[xsync.MapOf[string, struct{}]]
	expirations *xsync.MapOf[string, model.SceneObject]
}

// New creates an empty cache. Callers are expected to Resync before relying
// on the gate: an empty set degrades safely toward rejecting unknown keys.
func New() *Cache {
	c := &Cache{
		expirations: xsync.NewMapOf[string, model.SceneObject](),
	}
	c.persisted.Store(xsync.NewMapOf[string, struct{}]())
	return c
}

// --------------------------------------------------------------------------
// Persisted key set
// --------------------------------------------------------------------------

// Resync replaces the key set wholesale from the store's identity
// projection. On failure the previous set is kept and the error returned;
// the caller decides what to defer until the next successful resync.
func (c *Cache) Resync(ctx context.Context, st store.Store) error {
	keys, err := st.Keys(ctx)
	if err != nil {
		return fmt.Errorf("resync persisted keys: %w", err)
	}
	fresh := xsync.NewMapOf[string, struct{}]()
	for _, k := range keys {
		fresh.Store(k.String(), struct{}{})
	}
	c.persisted.Store(fresh)
	return nil
}

// IsPersisted reports whether the key was durably observed. This is the gate
// consulted before accepting update and delete events.
func (c *Cache) IsPersisted(key model.Key) bool {
	_, ok := c.persisted.Load().Load(key.String())
	return ok
}

// ObserveCreate records a confirmed store write for key.
func (c *Cache) ObserveCreate(key model.Key) {
	c.persisted.Load().Store(key.String(), struct{}{})
}

// ObserveDelete records a confirmed store delete (or expiry) for key.
func (c *Cache) ObserveDelete(key model.Key) {
	c.persisted.Load().Delete(key.String())
}

// PersistedCount returns the size of the key set.
func (c *Cache) PersistedCount() int {
	return c.persisted.Load().Size()
}

// DropScene removes every key of the given scene from both the key set and
// the expiration index, after a bulk scene delete.
func (c *Cache) DropScene(namespace, sceneID string) {
	prefix := namespace + "|" + sceneID + "|"
	set := c.persisted.Load()
	set.Range(func(key string, _ struct{}) bool {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			set.Delete(key)
		}
		return true
	})
	c.expirations.Range(func(key string, _ model.SceneObject) bool {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.expirations.Delete(key)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Expiration index
// --------------------------------------------------------------------------

// SetExpiration registers (or refreshes) the pending auto-delete for the
// object. Objects without an expireAt are cleared instead, so an overwrite
// without a TTL cancels a previously scheduled expiry.
func (c *Cache) SetExpiration(obj model.SceneObject) {
	key := obj.Key().String()
	if obj.ExpireAt == nil {
		c.expirations.Delete(key)
		return
	}
	c.expirations.Store(key, obj)
}

// ClearExpiration removes any pending expiry for key.
func (c *Cache) ClearExpiration(key model.Key) {
	c.expirations.Delete(key.String())
}

// Due returns the snapshots whose expireAt lies before now.
func (c *Cache) Due(now time.Time) []model.SceneObject {
	var due []model.SceneObject
	c.expirations.Range(func(_ string, obj model.SceneObject) bool {
		if obj.Expired(now) {
			due = append(due, obj)
		}
		return true
	})
	return due
}

// ExpirationCount returns the number of pending expirations.
func (c *Cache) ExpirationCount() int {
	return c.expirations.Size()
}
