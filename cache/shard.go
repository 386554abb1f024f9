package cache

import (
	"sync"

	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
)

type entry struct {
	art  *engine.Artifact
	hits uint64
	last uint64
	cost int64
	key  identity.Key
}

// lower reports whether e scores below o: fewer hits, then older access.
func (e *entry) lower(o *entry) bool {
	return e.hits < o.hits || (e.hits == o.hits && e.last < o.last)
}

// flight is one in-progress compilation. waiters counts the callers that
// joined it; each receives a reference when it completes.
type flight struct {
	art     *engine.Artifact
	err     error
	done    chan struct{}
	waiters int
}

type shard struct {
	entries map[identity.Key]*entry
	flights map[identity.Key]*flight
	cost    int64
	ops     uint64
	ageEach uint64
	mu      sync.Mutex
}

// touch records an access at the cache-wide tick now. Caller holds mu.
func (s *shard) touch(e *entry, now uint64) {
	e.last = now
	e.hits++
	s.ops++
	if s.ops >= s.ageEach {
		s.ops = 0
		for _, other := range s.entries {
			other.hits /= 2
		}
	}
}

// insert adds an entry owning art's reference. Caller holds mu.
func (s *shard) insert(key identity.Key, art *engine.Artifact, now uint64) *entry {
	e := &entry{key: key, art: art, cost: art.Cost()}
	s.entries[key] = e
	s.cost += e.cost
	s.touch(e, now)
	return e
}

// victim returns the lowest-scored entry other than keep. Caller holds mu.
func (s *shard) victim(keep *entry) *entry {
	var v *entry
	for _, e := range s.entries {
		if e == keep {
			continue
		}
		if v == nil || e.lower(v) {
			v = e
		}
	}
	return v
}

func (s *shard) drop(e *entry) {
	delete(s.entries, e.key)
	s.cost -= e.cost
}
