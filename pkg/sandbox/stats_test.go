package sandbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	s := &Stats{}
	s.IncCreated()
	s.IncRequests()
	s.IncRequests()
	s.IncRejected()
	s.IncHits()
	s.IncHits()
	s.IncHits()
	s.IncMisses()
	s.IncCleaned()

	snap := s.Snapshot(5)
	assert.Equal(t, int64(1), snap.TotalCreated)
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.RejectedRequests)
	assert.Equal(t, int64(3), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	assert.Equal(t, int64(1), snap.CleanedUp)
	assert.Equal(t, 5, snap.ActiveCount)
	assert.InDelta(t, 0.75, snap.CacheHitRate, 1e-9)
}

func TestStatsHitRateZeroWhenNoLookups(t *testing.T) {
	s := &Stats{}
	snap := s.Snapshot(0)
	assert.Zero(t, snap.CacheHitRate)
}

func TestStatsConcurrentIncrements(t *testing.T) {
	s := &Stats{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncRequests()
			s.IncHits()
		}()
	}
	wg.Wait()

	snap := s.Snapshot(0)
	assert.Equal(t, int64(100), snap.TotalRequests)
	assert.Equal(t, int64(100), snap.CacheHits)
}
