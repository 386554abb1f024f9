// Package cache keeps compiled artifacts keyed by code hash.
//
// The cache is split into shards, each with its own lock. The cost
// budget is global: when the summed cost of all entries exceeds MaxCost,
// the lowest-scored entry across every shard is dropped until the cache
// fits again. Entries are scored by hit count, halved every AgeEvery
// accesses to a shard so old popularity fades, with ties broken by least
// recent use. Eviction locks one shard at a time.
//
// Artifacts are reference counted. The cache owns one reference per entry
// and every caller receives its own; eviction only releases the cache's
// reference, so a call in progress keeps its artifact alive.
//
// Concurrent misses for one key share a single compilation.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

// Config holds cache configuration.
type Config struct {
	// MaxCost bounds the summed artifact cost across all shards.
	MaxCost int64
	// Shards is the number of independently locked partitions.
	Shards int
	// AgeEvery halves every hit count in a shard after this many accesses.
	AgeEvery uint64
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxCost:  256 << 20,
		Shards:   16,
		AgeEvery: 1024,
	}
}

// Loader compiles code into an artifact. *engine.Engine implements it.
type Loader interface {
	Load(ctx context.Context, code contractruntime.Code) (*engine.Artifact, error)
}

// LoadFunc produces the artifact for a key on a miss. The returned
// artifact carries one reference that the cache takes over.
type LoadFunc func(ctx context.Context) (*engine.Artifact, error)

// Load adapts a Loader and code into a LoadFunc.
func Load(l Loader, code contractruntime.Code) LoadFunc {
	return func(ctx context.Context) (*engine.Artifact, error) {
		return l.Load(ctx, code)
	}
}

// Source tells how GetOrCompile obtained an artifact.
type Source uint8

const (
	// SourceCache means the artifact was already cached.
	SourceCache Source = iota
	// SourceCompiled means this caller ran the compilation.
	SourceCompiled
	// SourceShared means this caller waited on another caller's compilation.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceCompiled:
		return "compiled"
	case SourceShared:
		return "shared"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Failures  uint64
	Evictions uint64
	Oversize  uint64
	Entries   int
	Cost      int64
}

// Cache maps code hashes to compiled artifacts.
type Cache struct {
	shards []*shard
	cfg    Config
	closed atomic.Bool
	cost   atomic.Int64
	clock  atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	compiles  atomic.Uint64
	failures  atomic.Uint64
	evictions atomic.Uint64
	oversize  atomic.Uint64
}

// New creates a cache. Zero fields of cfg take their default values.
func New(cfg Config) *Cache {
	d := DefaultConfig()
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = d.MaxCost
	}
	if cfg.Shards <= 0 {
		cfg.Shards = d.Shards
	}
	if cfg.AgeEvery == 0 {
		cfg.AgeEvery = d.AgeEvery
	}

	c := &Cache{cfg: cfg, shards: make([]*shard, cfg.Shards)}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: make(map[identity.Key]*entry),
			flights: make(map[identity.Key]*flight),
			ageEach: cfg.AgeEvery,
		}
	}
	return c
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

func (c *Cache) shardFor(key identity.Key) *shard {
	return c.shards[binary.LittleEndian.Uint64(key[:8])%uint64(len(c.shards))]
}

// Get returns a cached artifact with a new reference, or nil.
func (c *Cache) Get(key identity.Key) *engine.Artifact {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.touch(e, c.clock.Add(1))
	c.hits.Add(1)
	return e.art.Retain()
}

// Contains reports whether key is cached without counting as an access.
func (c *Cache) Contains(key identity.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// GetOrCompile returns the artifact cached under key, compiling it with
// load on a miss. Concurrent callers missing the same key wait for one
// compilation and each receive their own reference. Failed compilations
// are not cached. The caller must Release the returned artifact.
func (c *Cache) GetOrCompile(ctx context.Context, key identity.Key, load LoadFunc) (*engine.Artifact, Source, error) {
	if c.closed.Load() {
		return nil, SourceCompiled, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Detail("cache closed").
			Build()
	}

	s := c.shardFor(key)
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.touch(e, c.clock.Add(1))
		art := e.art.Retain()
		s.mu.Unlock()
		c.hits.Add(1)
		return art, SourceCache, nil
	}
	c.misses.Add(1)

	if f, ok := s.flights[key]; ok {
		f.waiters++
		s.mu.Unlock()
		art, err := c.wait(ctx, s, f)
		return art, SourceShared, err
	}

	f := &flight{done: make(chan struct{})}
	s.flights[key] = f
	s.mu.Unlock()

	art, err := compile(context.WithoutCancel(ctx), load)

	var added *entry
	s.mu.Lock()
	delete(s.flights, key)
	if err != nil {
		f.err = err
		c.failures.Add(1)
	} else {
		c.compiles.Add(1)
		for i := 0; i < f.waiters; i++ {
			art.Retain()
		}
		f.art = art
		if art.Cost() > c.cfg.MaxCost || c.closed.Load() {
			c.oversize.Add(1)
		} else {
			added = s.insert(key, art.Retain(), c.clock.Add(1))
			c.cost.Add(added.cost)
		}
	}
	close(f.done)
	s.mu.Unlock()

	if added != nil {
		c.evict(added)
	}
	if err != nil {
		Logger().Debug("compile failed", zap.String("key", key.Short()), zap.Error(err))
		return nil, SourceCompiled, err
	}
	Logger().Debug("compiled",
		zap.String("key", key.Short()),
		zap.Int64("cost", art.Cost()),
		zap.Int("waiters", f.waiters))
	return art, SourceCompiled, nil
}

// wait blocks until f completes. A waiter that gives up drops the
// reference the completing compiler set aside for it.
func (c *Cache) wait(ctx context.Context, s *shard, f *flight) (*engine.Artifact, error) {
	select {
	case <-f.done:
		return f.art, f.err
	case <-ctx.Done():
	}

	s.mu.Lock()
	select {
	case <-f.done:
		s.mu.Unlock()
		if f.art != nil {
			f.art.Release()
		}
	default:
		f.waiters--
		s.mu.Unlock()
	}
	return nil, errors.New(errors.PhaseCompile, errors.KindTimeout).
		Detail("gave up waiting for compilation").
		Cause(ctx.Err()).
		Build()
}

func compile(ctx context.Context, load LoadFunc) (art *engine.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			art = nil
			err = errors.New(errors.PhaseCompile, errors.KindMalformed).
				Detail("compiler panic: %v", r).
				Build()
		}
	}()
	art, err = load(ctx)
	if err == nil && art == nil {
		err = errors.New(errors.PhaseCompile, errors.KindMalformed).Detail("loader returned no artifact").Build()
	}
	return art, err
}

// Remove drops key from the cache. Holders keep their references.
func (c *Cache) Remove(key identity.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.drop(e)
		c.cost.Add(-e.cost)
	}
	s.mu.Unlock()
	if ok {
		e.art.Release()
	}
	return ok
}

// Purge drops every entry.
func (c *Cache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		victims := make([]*engine.Artifact, 0, len(s.entries))
		for _, e := range s.entries {
			s.drop(e)
			c.cost.Add(-e.cost)
			victims = append(victims, e.art)
		}
		s.mu.Unlock()
		for _, a := range victims {
			a.Release()
		}
	}
}

// Close purges the cache and refuses further lookups.
func (c *Cache) Close() {
	c.closed.Store(true)
	c.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Compiles:  c.compiles.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
		Oversize:  c.oversize.Load(),
		Cost:      c.cost.Load(),
	}
	for _, s := range c.shards {
		s.mu.Lock()
		st.Entries += len(s.entries)
		s.mu.Unlock()
	}
	return st
}

// evict drops the lowest-scored entries across all shards until the total
// cost is within MaxCost. keep, the entry just admitted, is never chosen.
// Each round scans the shards one lock at a time and then drops the chosen
// entry if it is still cached; a concurrent change only costs a rescan.
func (c *Cache) evict(keep *entry) {
	for c.cost.Load() > c.cfg.MaxCost {
		var (
			from *shard
			best entry
			ptr  *entry
		)
		for _, s := range c.shards {
			s.mu.Lock()
			if v := s.victim(keep); v != nil && (ptr == nil || v.lower(&best)) {
				from, best, ptr = s, *v, v
			}
			s.mu.Unlock()
		}
		if ptr == nil {
			return
		}

		from.mu.Lock()
		cur, ok := from.entries[best.key]
		if !ok || cur != ptr {
			from.mu.Unlock()
			continue
		}
		from.drop(cur)
		c.cost.Add(-cur.cost)
		from.mu.Unlock()

		c.evictions.Add(1)
		cur.art.Release()
	}
}
