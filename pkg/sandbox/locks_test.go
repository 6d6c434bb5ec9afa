package sandbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockRegistryMemoizes(t *testing.T) {
	r := newLockRegistry()
	key := TenantKey{UserID: "alice", ProjectID: "web"}

	l1 := r.lockFor(key)
	l2 := r.lockFor(key)
	assert.Same(t, l1, l2)

	other := r.lockFor(TenantKey{UserID: "bob", ProjectID: "web"})
	assert.NotSame(t, l1, other)
	assert.Equal(t, 2, r.Len())
}

func TestLockRegistryPruneKeepsLive(t *testing.T) {
	r := newLockRegistry()
	live := TenantKey{UserID: "alice", ProjectID: "web"}
	dead := TenantKey{UserID: "bob", ProjectID: "web"}
	r.lockFor(live)
	r.lockFor(dead)

	pruned := r.Prune(map[TenantKey]struct{}{live: {}})
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, r.Len())
}

func TestLockRegistryPruneSkipsHeldLocks(t *testing.T) {
	r := newLockRegistry()
	key := TenantKey{UserID: "alice", ProjectID: "web"}
	l := r.lockFor(key)

	l.Lock()
	pruned := r.Prune(map[TenantKey]struct{}{})
	assert.Equal(t, 0, pruned)
	assert.Equal(t, 1, r.Len())
	l.Unlock()

	pruned = r.Prune(map[TenantKey]struct{}{})
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 0, r.Len())
}

func TestLockRegistrySerializesSameTenant(t *testing.T) {
	r := newLockRegistry()
	key := TenantKey{UserID: "alice", ProjectID: "web"}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := r.lockFor(key)
			l.Lock()
			counter++
			l.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}
