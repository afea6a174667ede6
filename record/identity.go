package record

import (
	"github.com/maypok86/otter"
)

// DefaultCapacity is the identity map size used when none is configured.
const DefaultCapacity = 10_000

// IdentityMap caches instances by key so that a row loaded twice resolves
// to the same *Instance. It is bounded: an evicted instance stays valid but
// a later load of the same row yields a fresh object.
type IdentityMap struct {
	cache otter.Cache[Key, *Instance]
}

// NewIdentityMap returns an identity map holding up to capacity instances.
func NewIdentityMap(capacity int) (*IdentityMap, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := otter.MustBuilder[Key, *Instance](capacity).
		CollectStats().
		Build()
	if err != nil {
		return nil, err
	}
	return &IdentityMap{cache: cache}, nil
}

// Get returns the cached instance for key.
func (m *IdentityMap) Get(key Key) (*Instance, bool) {
	return m.cache.Get(key)
}

// Add caches inst under its key. Instances without a complete primary key
// are ignored. If another instance is already cached for the key, that
// instance is returned and the cache is left unchanged.
func (m *IdentityMap) Add(inst *Instance) *Instance {
	key, ok := inst.Key()
	if !ok {
		return inst
	}
	if cur, ok := m.cache.Get(key); ok {
		return cur
	}
	m.cache.Set(key, inst)
	return inst
}

// Put caches inst under its key, replacing any other instance.
func (m *IdentityMap) Put(inst *Instance) {
	if key, ok := inst.Key(); ok {
		m.cache.Set(key, inst)
	}
}

// Remove drops the instance cached for key.
func (m *IdentityMap) Remove(key Key) { m.cache.Delete(key) }

// Forget drops inst if it is the instance cached under its key.
func (m *IdentityMap) Forget(inst *Instance) {
	key, ok := inst.Key()
	if !ok {
		return
	}
	if cur, ok := m.cache.Get(key); ok && cur == inst {
		m.cache.Delete(key)
	}
}

// Clear empties the map.
func (m *IdentityMap) Clear() { m.cache.Clear() }

// Len returns the number of cached instances.
func (m *IdentityMap) Len() int { return m.cache.Size() }

// Hits returns the number of lookups that found an instance.
func (m *IdentityMap) Hits() int64 { return m.cache.Stats().Hits() }

// Close releases the cache.
func (m *IdentityMap) Close() { m.cache.Close() }
