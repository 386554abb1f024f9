// Package codestore remembers module code by hash.
//
// The network supplies code bytes the first time an identity is seen;
// later requests name only the code hash. Entries are kept in a
// fastcache instance as snappy-compressed code containers and verified
// against their hash on every read. The registry is bounded and lossy:
// an entry evicted under memory pressure resolves as not found.
package codestore

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/wire"
)

// Config sizes the registry.
type Config struct {
	// MaxBytes bounds the memory held by the registry.
	MaxBytes int
	// Journal, when set, is a directory the registry is loaded from on
	// open and saved to on Close.
	Journal string
	// Hasher computes code hashes. Nil selects identity.DefaultHasher.
	Hasher identity.Hasher
}

// DefaultConfig returns a 64MB in-memory registry.
func DefaultConfig() Config {
	return Config{MaxBytes: 64 << 20}
}

// Stats is a snapshot of registry activity.
type Stats struct {
	Entries     uint64
	Bytes       uint64
	Gets        uint64
	Misses      uint64
	Corruptions uint64
}

// Registry maps code hashes to code.
type Registry struct {
	cache  *fastcache.Cache
	hasher identity.Hasher
	cfg    Config
}

// New opens a registry. With a journal directory, previously saved
// entries are loaded; a missing or unreadable journal starts empty.
func New(cfg Config) *Registry {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	if cfg.Hasher == nil {
		cfg.Hasher = identity.DefaultHasher
	}
	var c *fastcache.Cache
	if cfg.Journal != "" {
		c = fastcache.LoadFromFileOrNew(cfg.Journal, cfg.MaxBytes)
		Logger().Debug("code registry loaded", zap.String("journal", cfg.Journal))
	} else {
		c = fastcache.New(cfg.MaxBytes)
	}
	return &Registry{cache: c, hasher: cfg.Hasher, cfg: cfg}
}

// Hasher returns the hash collaborator used for verification.
func (r *Registry) Hasher() identity.Hasher {
	return r.hasher
}

// Put stores code and returns its hash. Code already held under the same
// hash with a different kind or version is replaced.
func (r *Registry) Put(code contractruntime.Code) (identity.Key, error) {
	if !code.Kind.Valid() {
		return identity.Key{}, errors.InvalidInput(errors.PhaseStore, fmt.Sprintf("unknown module kind %s", code.Kind))
	}
	if len(code.Bytes) == 0 {
		return identity.Key{}, errors.InvalidInput(errors.PhaseStore, "empty module")
	}
	h := r.hasher.Hash(code.Bytes)
	if raw := r.cache.GetBig(nil, h[:]); len(raw) > 0 {
		if old, err := r.decode(h, raw); err == nil && old.Kind == code.Kind && old.Version == code.Version {
			return h, nil
		}
	}
	r.cache.SetBig(h[:], snappy.Encode(nil, wire.EncodeCode(code)))
	Logger().Debug("code registered",
		zap.Stringer("hash", h),
		zap.Stringer("kind", code.Kind),
		zap.Int("size", len(code.Bytes)))
	return h, nil
}

// Verify checks that code hashes to want.
func (r *Registry) Verify(want identity.Key, code contractruntime.Code) error {
	if got := r.hasher.Hash(code.Bytes); got != want {
		return errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Identity(want.String()).
			Detail("code hashes to %s", got.Short()).
			Build()
	}
	return nil
}

// PutVerified stores code claimed to hash to want. A mismatch is rejected
// without touching the registry.
func (r *Registry) PutVerified(want identity.Key, code contractruntime.Code) error {
	if err := r.Verify(want, code); err != nil {
		return err
	}
	_, err := r.Put(code)
	return err
}

// Get returns the code stored under h. The bool is false when the
// registry does not hold h. An entry that fails to decode or no longer
// matches its hash is dropped and reported as a store error.
func (r *Registry) Get(h identity.Key) (contractruntime.Code, bool, error) {
	raw := r.cache.GetBig(nil, h[:])
	if len(raw) == 0 {
		return contractruntime.Code{}, false, nil
	}
	code, err := r.decode(h, raw)
	if err != nil {
		r.cache.Del(h[:])
		Logger().Warn("dropping corrupt code entry", zap.Stringer("hash", h), zap.Error(err))
		return contractruntime.Code{}, false, errors.Wrap(errors.PhaseStore, errors.KindStore, err, "code entry "+h.Short())
	}
	return code, true, nil
}

func (r *Registry) decode(h identity.Key, raw []byte) (contractruntime.Code, error) {
	plain, err := snappy.Decode(nil, raw)
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("decompress: %w", err)
	}
	code, err := wire.DecodeCode(plain)
	if err != nil {
		return contractruntime.Code{}, fmt.Errorf("decode: %w", err)
	}
	if got := r.hasher.Hash(code.Bytes); !bytes.Equal(got[:], h[:]) {
		return contractruntime.Code{}, fmt.Errorf("hash mismatch: stored under %s, hashes to %s", h.Short(), got.Short())
	}
	return code, nil
}

// Has reports whether h is present without decoding it.
func (r *Registry) Has(h identity.Key) bool {
	return r.cache.Has(h[:])
}

// Delete forgets h.
func (r *Registry) Delete(h identity.Key) {
	r.cache.Del(h[:])
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	var s fastcache.Stats
	r.cache.UpdateStats(&s)
	return Stats{
		Entries:     s.EntriesCount,
		Bytes:       s.BytesSize,
		Gets:        s.GetCalls + s.GetBigCalls,
		Misses:      s.Misses,
		Corruptions: s.Corruptions + s.InvalidValueHashErrors,
	}
}

// Save writes the registry to its journal directory. It is a no-op
// without one.
func (r *Registry) Save() error {
	if r.cfg.Journal == "" {
		return nil
	}
	if err := r.cache.SaveToFileConcurrent(r.cfg.Journal, runtime.GOMAXPROCS(0)); err != nil {
		return errors.Wrap(errors.PhaseStore, errors.KindStore, err, "save code journal")
	}
	return nil
}

// Close saves the journal, if any, and releases the registry's memory.
func (r *Registry) Close() error {
	err := r.Save()
	r.cache.Reset()
	return err
}
