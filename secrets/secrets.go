// Package secrets stores per-delegate secrets.
//
// A Store holds values for many delegates, partitioned by namespace. The
// runtime never hands a Store to guest code: each delegate call receives an
// Accessor bound to that delegate's key, and the Accessor is the only path
// from the secrets host module to storage.
package secrets

import (
	"context"
	"fmt"

	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
)

// Size limits enforced by Accessor.
const (
	MaxNameSize  = 256
	MaxValueSize = 64 << 10
)

// Store persists secrets partitioned by namespace.
type Store interface {
	Get(ctx context.Context, ns identity.Key, name []byte) ([]byte, bool, error)
	Put(ctx context.Context, ns identity.Key, name, value []byte) error
	Delete(ctx context.Context, ns identity.Key, name []byte) (bool, error)
	Names(ctx context.Context, ns identity.Key) ([][]byte, error)
	Close() error
}

var _ engine.Secrets = (*Accessor)(nil)

// Accessor is the capability a single delegate call holds on its own
// namespace.
type Accessor struct {
	store Store
	ns    identity.Key
}

// Bind returns an accessor restricted to the delegate's namespace.
func Bind(store Store, delegate identity.DelegateKey) *Accessor {
	return &Accessor{store: store, ns: delegate.ID}
}

// Namespace returns the namespace the accessor is bound to.
func (a *Accessor) Namespace() identity.Key { return a.ns }

func (a *Accessor) Get(ctx context.Context, name []byte) ([]byte, bool, error) {
	if len(name) > MaxNameSize {
		return nil, false, nil
	}
	return a.store.Get(ctx, a.ns, name)
}

func (a *Accessor) Set(ctx context.Context, name, value []byte) error {
	if len(name) == 0 || len(name) > MaxNameSize {
		return fmt.Errorf("%w: name of %d bytes", engine.ErrSecretRejected, len(name))
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: value of %d bytes", engine.ErrSecretRejected, len(value))
	}
	return a.store.Put(ctx, a.ns, name, value)
}

func (a *Accessor) Remove(ctx context.Context, name []byte) (bool, error) {
	if len(name) > MaxNameSize {
		return false, nil
	}
	return a.store.Delete(ctx, a.ns, name)
}

// storageKey is ns || name.
func storageKey(ns identity.Key, name []byte) []byte {
	k := make([]byte, 0, identity.Size+len(name))
	k = append(k, ns[:]...)
	return append(k, name...)
}
