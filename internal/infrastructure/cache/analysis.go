// Package cache memoizes task analyses by task signature.
package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/blackms/swarm-core/internal/shared"
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ComputeFunc produces the analysis for a signature on a miss.
type ComputeFunc func() (shared.TaskAnalysis, error)

// AnalysisCache runs at most one computation per signature at a time.
// Callers that arrive while a computation is in flight wait for it and are
// counted as hits. Failed computations are not memoized or counted.
type AnalysisCache struct {
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]shared.TaskAnalysis
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewAnalysisCache creates an empty cache.
func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{entries: make(map[string]shared.TaskAnalysis)}
}

// GetOrCompute returns the memoized analysis for signature, computing it
// with compute on a miss. hit reports whether this caller did not compute.
func (c *AnalysisCache) GetOrCompute(signature string, compute ComputeFunc) (analysis shared.TaskAnalysis, hit bool, err error) {
	if a, ok := c.lookup(signature); ok {
		c.hits.Add(1)
		return a, true, nil
	}

	computed := false
	v, err, _ := c.group.Do(signature, func() (interface{}, error) {
		if a, ok := c.lookup(signature); ok {
			return a, nil
		}
		computed = true
		a, err := compute()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[signature] = a.Clone()
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return shared.TaskAnalysis{}, false, err
	}

	if computed {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(shared.TaskAnalysis).Clone(), !computed, nil
}

func (c *AnalysisCache) lookup(signature string) (shared.TaskAnalysis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[signature]
	if !ok {
		return shared.TaskAnalysis{}, false
	}
	return a.Clone(), true
}

// Stats returns hit and miss counters.
func (c *AnalysisCache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// Purge drops memoized entries. Counters are kept.
func (c *AnalysisCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]shared.TaskAnalysis)
}
