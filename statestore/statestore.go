// Package statestore provides the storage collaborator the runtime uses to
// fetch contract states, most importantly the states of related contracts
// a validation asks for.
package statestore

import (
	"context"

	"golang.org/x/sync/errgroup"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

// StateFetcher fetches one contract state. The bool is false when the
// store has no state for key.
type StateFetcher interface {
	FetchState(ctx context.Context, key identity.Key) (contractruntime.State, bool, error)
}

// Fetcher is the storage collaborator consumed by the runtime.
type Fetcher interface {
	StateFetcher
	// FetchRelated returns an entry for every id. Ids without a stored
	// state map to nil.
	FetchRelated(ctx context.Context, ids []identity.Key) (contractruntime.RelatedContracts, error)
}

// Store is a Fetcher that can also be written.
type Store interface {
	Fetcher
	PutState(ctx context.Context, key identity.Key, state contractruntime.State) error
	DeleteState(ctx context.Context, key identity.Key) (bool, error)
	Close() error
}

// Fanout turns a StateFetcher into a Fetcher by fetching related states
// concurrently, at most Limit at a time.
type Fanout struct {
	StateFetcher
	Limit int
}

// FetchRelated implements Fetcher.
func (f Fanout) FetchRelated(ctx context.Context, ids []identity.Key) (contractruntime.RelatedContracts, error) {
	return FetchEach(ctx, f.StateFetcher, ids, f.Limit)
}

// FetchEach fetches ids one by one through f, with up to limit requests in
// flight. A limit of zero or less means no bound. The first error cancels
// the remaining fetches.
func FetchEach(ctx context.Context, f StateFetcher, ids []identity.Key, limit int) (contractruntime.RelatedContracts, error) {
	states := make([]contractruntime.State, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			s, ok, err := f.FetchState(gctx, id)
			if err != nil {
				return errors.Wrap(errors.PhaseStore, errors.KindStore, err, "fetch state "+id.Short())
			}
			if ok {
				states[i] = s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(contractruntime.RelatedContracts, len(ids))
	for i, id := range ids {
		out[id] = states[i]
	}
	return out, nil
}
