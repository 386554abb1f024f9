package engine

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
)

// Artifact is an immutable compiled module. It is reference counted: the
// compiled code is closed when the last holder calls Release.
type Artifact struct {
	compiled wazero.CompiledModule
	exports  map[string]struct{}
	version  string
	imports  []string
	cost     int64
	refs     atomic.Int64
	kind     contractruntime.Kind
}

// Kind returns whether the artifact is a contract or a delegate.
func (a *Artifact) Kind() contractruntime.Kind { return a.kind }

// Version returns the ABI version the module declared.
func (a *Artifact) Version() string { return a.version }

// Cost is the cache weight of the artifact, proportional to its code size.
func (a *Artifact) Cost() int64 { return a.cost }

// HasExport reports whether an ABI export was found at load time.
// Optional exports such as validate_delta may be absent.
func (a *Artifact) HasExport(name string) bool {
	_, ok := a.exports[name]
	return ok
}

// Exports returns the ABI exports found at load time in sorted order.
func (a *Artifact) Exports() []string {
	names := make([]string, 0, len(a.exports))
	for n := range a.exports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Imports returns the host imports of the module as module.name.
func (a *Artifact) Imports() []string {
	return append([]string(nil), a.imports...)
}

// Refs returns the current reference count.
func (a *Artifact) Refs() int64 { return a.refs.Load() }

// Retain adds a reference. It must only be called by a current holder.
func (a *Artifact) Retain() *Artifact {
	if a.refs.Add(1) <= 1 {
		panic("engine: retain of released artifact")
	}
	return a
}

// Release drops a reference and closes the compiled module when it was the
// last one.
func (a *Artifact) Release() {
	switch n := a.refs.Add(-1); {
	case n == 0:
		if err := a.compiled.Close(context.Background()); err != nil {
			Logger().Warn("close compiled module", zap.Error(err))
		}
		Logger().Debug("artifact destroyed", zap.Stringer("kind", a.kind), zap.Int64("cost", a.cost))
	case n < 0:
		panic("engine: artifact released too many times")
	}
}

// Released reports whether every reference has been dropped.
func (a *Artifact) Released() bool { return a.refs.Load() <= 0 }
