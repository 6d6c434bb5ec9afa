package sandbox

import "sync"

// lockRegistry hands out one mutex per tenant, created on demand.
// Holding a tenant's lock serializes acquisition and close for that
// tenant while unrelated tenants proceed in parallel.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[TenantKey]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[TenantKey]*sync.Mutex)}
}

// lockFor returns the memoized mutex for key, creating it if needed.
func (r *lockRegistry) lockFor(key TenantKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Prune drops locks for tenants not in live, keeping the registry
// bounded over many short-lived tenants. Only currently-free locks are
// dropped: TryLock under the registry lock means no holder and no
// waiter that could still be serialized by the old mutex.
func (r *lockRegistry) Prune(live map[TenantKey]struct{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, l := range r.locks {
		if _, ok := live[key]; ok {
			continue
		}
		if !l.TryLock() {
			continue
		}
		l.Unlock()
		delete(r.locks, key)
		removed++
	}
	return removed
}

// Len reports the registry size.
func (r *lockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
