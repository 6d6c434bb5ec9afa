package sandbox

import "sync"

// Stats holds the manager's monotonically increasing counters. It has
// its own mutex so counter updates never contend with pool mutation.
type Stats struct {
	mu               sync.Mutex
	totalCreated     int64
	totalRequests    int64
	rejectedRequests int64
	cacheHits        int64
	cacheMisses      int64
	cleanedUp        int64
}

// StatsSnapshot is a point-in-time view of the counters plus derived
// values.
type StatsSnapshot struct {
	TotalCreated     int64   `json:"total_created"`
	TotalRequests    int64   `json:"total_requests"`
	RejectedRequests int64   `json:"rejected_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CleanedUp        int64   `json:"cleaned_up"`
	ActiveCount      int     `json:"active_count"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
}

func (s *Stats) IncCreated()  { s.inc(&s.totalCreated) }
func (s *Stats) IncRequests() { s.inc(&s.totalRequests) }
func (s *Stats) IncRejected() { s.inc(&s.rejectedRequests) }
func (s *Stats) IncHits()     { s.inc(&s.cacheHits) }
func (s *Stats) IncMisses()   { s.inc(&s.cacheMisses) }
func (s *Stats) IncCleaned()  { s.inc(&s.cleanedUp) }

func (s *Stats) inc(counter *int64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

// Snapshot copies the counters and derives the hit rate. activeCount is
// supplied by the caller (the pool size at snapshot time).
func (s *Stats) Snapshot(activeCount int) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalCreated:     s.totalCreated,
		TotalRequests:    s.totalRequests,
		RejectedRequests: s.rejectedRequests,
		CacheHits:        s.cacheHits,
		CacheMisses:      s.cacheMisses,
		CleanedUp:        s.cleanedUp,
		ActiveCount:      activeCount,
	}
	if total := s.cacheHits + s.cacheMisses; total > 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(total)
	}
	return snap
}
