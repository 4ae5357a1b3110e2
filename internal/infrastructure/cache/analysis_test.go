package cache

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blackms/swarm-core/internal/shared"
)

func buildAnalysis() shared.TaskAnalysis {
	return shared.TaskAnalysis{
		Signature:  "build:abc",
		AgentCount: 2,
		AgentTypes: []shared.AgentRole{shared.AgentRoleProgrammer, shared.AgentRoleTester},
		Roster:     []shared.AgentRole{shared.AgentRoleProgrammer, shared.AgentRoleTester},
	}
}

func TestAnalysisCache_ConcurrentCallersComputeOnce(t *testing.T) {
	c := NewAnalysisCache()

	var computations atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func() (shared.TaskAnalysis, error) {
		if computations.Add(1) == 1 {
			close(started)
		}
		<-release
		return buildAnalysis(), nil
	}

	type outcome struct {
		analysis shared.TaskAnalysis
		hit      bool
		err      error
	}
	results := make([]outcome, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a, hit, err := c.GetOrCompute("build:abc", compute)
		results[0] = outcome{a, hit, err}
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		a, hit, err := c.GetOrCompute("build:abc", compute)
		results[1] = outcome{a, hit, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := computations.Load(); n != 1 {
		t.Fatalf("expected exactly one computation, got %d", n)
	}
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("caller %d: %v", i, r.err)
		}
	}
	if !reflect.DeepEqual(results[0].analysis, results[1].analysis) {
		t.Fatalf("expected identical analyses, got %+v and %+v", results[0].analysis, results[1].analysis)
	}
	if results[0].hit || !results[1].hit {
		t.Fatalf("expected first caller to miss and second to hit, got %v %v", results[0].hit, results[1].hit)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", stats.HitRate())
	}
}

func TestAnalysisCache_ReturnsIndependentCopies(t *testing.T) {
	c := NewAnalysisCache()
	a, _, err := c.GetOrCompute("k", func() (shared.TaskAnalysis, error) { return buildAnalysis(), nil })
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	a.Roster[0] = "mutated"

	b, hit, _ := c.GetOrCompute("k", func() (shared.TaskAnalysis, error) {
		t.Fatal("compute must not run on a memoized signature")
		return shared.TaskAnalysis{}, nil
	})
	if !hit {
		t.Fatal("expected a hit")
	}
	if b.Roster[0] != shared.AgentRoleProgrammer {
		t.Fatalf("expected memoized entry to be unaffected by caller mutation, got %q", b.Roster[0])
	}
}

func TestAnalysisCache_ErrorsAreNotMemoized(t *testing.T) {
	c := NewAnalysisCache()
	boom := errors.New("bad payload")

	if _, _, err := c.GetOrCompute("k", func() (shared.TaskAnalysis, error) { return shared.TaskAnalysis{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if stats := c.Stats(); stats.Hits != 0 || stats.Misses != 0 || stats.Entries != 0 {
		t.Fatalf("expected failed compute to leave no trace, got %+v", stats)
	}

	calls := 0
	if _, hit, err := c.GetOrCompute("k", func() (shared.TaskAnalysis, error) { calls++; return buildAnalysis(), nil }); err != nil || hit {
		t.Fatalf("expected recompute after failure, hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Fatalf("expected one retry computation, got %d", calls)
	}
}

func TestAnalysisCache_EmptyHitRate(t *testing.T) {
	if rate := NewAnalysisCache().Stats().HitRate(); rate != 0 {
		t.Fatalf("expected 0 hit rate with no lookups, got %v", rate)
	}
}

func TestAnalysisCache_Purge(t *testing.T) {
	c := NewAnalysisCache()
	_, _, _ = c.GetOrCompute("k", func() (shared.TaskAnalysis, error) { return buildAnalysis(), nil })
	c.Purge()

	if stats := c.Stats(); stats.Entries != 0 || stats.Misses != 1 {
		t.Fatalf("expected entries purged and counters kept, got %+v", stats)
	}
}
