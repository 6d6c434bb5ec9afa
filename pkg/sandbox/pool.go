package sandbox

import "sync"

// Pool is the in-process map of live sandboxes. It serializes map
// mutation with its own lock, distinct from the per-tenant locks, since
// the reaper iterates across all tenants concurrently with per-tenant
// acquisition. No remote I/O happens under the pool lock.
type Pool struct {
	mu      sync.RWMutex
	entries map[TenantKey]*Entry
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[TenantKey]*Entry)}
}

// Get returns the entry for key, or nil.
func (p *Pool) Get(key TenantKey) *Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[key]
}

// Put inserts or overwrites the entry for key. Closing a displaced
// handle is the caller's responsibility beforehand.
func (p *Pool) Put(key TenantKey, entry *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = entry
}

// Remove deletes and returns the entry for key, or nil if absent.
func (p *Pool) Remove(key TenantKey) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := p.entries[key]
	delete(p.entries, key)
	return entry
}

// Len returns the number of live entries.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// CountForUser returns how many sandboxes the user holds across all
// projects.
func (p *Pool) CountForUser(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for key := range p.entries {
		if key.UserID == userID {
			n++
		}
	}
	return n
}

// Snapshot copies the current entries so the reaper can act on them
// without holding the pool lock across remote kill calls.
func (p *Pool) Snapshot() []*Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry)
	}
	return out
}

// Keys returns the set of tenants that currently hold a sandbox.
func (p *Pool) Keys() map[TenantKey]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make(map[TenantKey]struct{}, len(p.entries))
	for key := range p.entries {
		keys[key] = struct{}{}
	}
	return keys
}
