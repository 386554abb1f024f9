package runtime

import (
	"context"

	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/abi"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
)

// UpdateResult is the outcome of Update.
type UpdateResult = abi.UpdateResult

// ValidateRequest asks whether State is valid. Related carries the states
// of related contracts the caller already holds. Code may be nil when the
// code hash has been seen before; a zero Key is derived from Code.
type ValidateRequest struct {
	Code       *contractruntime.Code
	Related    contractruntime.RelatedContracts
	Parameters contractruntime.Parameters
	State      contractruntime.State
	Key        identity.ContractKey
}

// UpdateRequest applies Delta to State.
type UpdateRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	State      contractruntime.State
	Delta      contractruntime.StateDelta
	Key        identity.ContractKey
}

// SummarizeRequest asks for the summary of State.
type SummarizeRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	State      contractruntime.State
	Key        identity.ContractKey
}

// DeltaRequest asks for the delta that brings a peer holding Summary up
// to State.
type DeltaRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	State      contractruntime.State
	Summary    contractruntime.StateSummary
	Key        identity.ContractKey
}

// MergeSummaryRequest asks the contract to merge the state a peer
// summarized as Summary into State.
type MergeSummaryRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	State      contractruntime.State
	Summary    contractruntime.StateSummary
	Key        identity.ContractKey
}

// ValidateDeltaRequest asks whether Delta is acceptable on its own.
type ValidateDeltaRequest struct {
	Code       *contractruntime.Code
	Parameters contractruntime.Parameters
	Delta      contractruntime.StateDelta
	Key        identity.ContractKey
}

func contractTarget(key identity.ContractKey, code *contractruntime.Code, params contractruntime.Parameters) *target {
	return &target{
		kind:     contractruntime.KindContract,
		id:       key.ID,
		codeHash: key.CodeHash,
		code:     code,
		params:   params,
	}
}

// Validate runs validate_state, fetching related contract states and
// retrying while the contract asks for states it has not seen.
func (r *Runtime) Validate(ctx context.Context, req ValidateRequest) (contractruntime.ValidateResult, error) {
	c := r.begin("validate", engine.ExportValidateState)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return contractruntime.ValidateResult{}, c.fail(err)
	}
	defer art.Release()

	related := make(contractruntime.RelatedContracts, len(req.Related))
	for id, s := range req.Related {
		related[id] = s
	}

	for round := 0; ; round++ {
		res, err := r.contracts.ValidateState(c.invokeContext(ctx), art, req.Parameters, req.State, related)
		if err != nil {
			return contractruntime.ValidateResult{}, c.fail(err)
		}
		if res.Outcome != contractruntime.RequiresRelated || r.cfg.Fetcher == nil || round >= r.cfg.MaxRelatedRounds {
			c.done()
			return res, nil
		}

		var missing []identity.Key
		for _, id := range res.Missing {
			if _, seen := related[id]; !seen {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			c.done()
			return res, nil
		}

		fetched, err := r.cfg.Fetcher.FetchRelated(ctx, missing)
		if err != nil {
			return contractruntime.ValidateResult{}, c.fail(err)
		}
		for _, id := range missing {
			related[id] = fetched[id]
		}
		r.log.Debug("fetched related contracts",
			zap.Uint64("call", c.id),
			zap.Int("round", round+1),
			zap.Int("count", len(missing)))
	}
}

// Update runs update_state.
func (r *Runtime) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	c := r.begin("update", engine.ExportUpdateState)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return UpdateResult{}, c.fail(err)
	}
	defer art.Release()

	res, err := r.contracts.UpdateState(c.invokeContext(ctx), art, req.Parameters, req.State, req.Delta)
	if err != nil {
		return UpdateResult{}, c.fail(err)
	}
	c.done()
	return res, nil
}

// Summarize runs summarize_state.
func (r *Runtime) Summarize(ctx context.Context, req SummarizeRequest) (contractruntime.StateSummary, error) {
	c := r.begin("summarize", engine.ExportSummarizeState)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return nil, c.fail(err)
	}
	defer art.Release()

	sum, err := r.contracts.SummarizeState(c.invokeContext(ctx), art, req.Parameters, req.State)
	if err != nil {
		return nil, c.fail(err)
	}
	c.done()
	return sum, nil
}

// Delta runs get_state_delta.
func (r *Runtime) Delta(ctx context.Context, req DeltaRequest) (contractruntime.StateDelta, error) {
	c := r.begin("delta", engine.ExportGetStateDelta)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return nil, c.fail(err)
	}
	defer art.Release()

	delta, err := r.contracts.GetStateDelta(c.invokeContext(ctx), art, req.Parameters, req.State, req.Summary)
	if err != nil {
		return nil, c.fail(err)
	}
	c.done()
	return delta, nil
}

// ValidateDelta runs validate_delta for contracts that export it.
func (r *Runtime) ValidateDelta(ctx context.Context, req ValidateDeltaRequest) (bool, error) {
	c := r.begin("validate_delta", engine.ExportValidateDelta)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return false, c.fail(err)
	}
	defer art.Release()

	ok, err := r.contracts.ValidateDelta(c.invokeContext(ctx), art, req.Parameters, req.Delta)
	if err != nil {
		return false, c.fail(err)
	}
	c.done()
	return ok, nil
}

// UpdateFromSummary runs update_state_from_summary for contracts that
// export it.
func (r *Runtime) UpdateFromSummary(ctx context.Context, req MergeSummaryRequest) (UpdateResult, error) {
	c := r.begin("update_from_summary", engine.ExportUpdateFromSummary)
	art, err := r.acquire(ctx, c, contractTarget(req.Key, req.Code, req.Parameters))
	if err != nil {
		return UpdateResult{}, c.fail(err)
	}
	defer art.Release()

	res, err := r.contracts.UpdateStateFromSummary(c.invokeContext(ctx), art, req.Parameters, req.State, req.Summary)
	if err != nil {
		return UpdateResult{}, c.fail(err)
	}
	c.done()
	return res, nil
}
