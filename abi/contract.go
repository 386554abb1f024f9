package abi

import (
	"context"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/wire"
)

// UpdateResult is the answer of update_state. Changed is false when the
// contract reported no change, in which case State is the input state.
type UpdateResult struct {
	State   contractruntime.State
	Changed bool
}

// Contract drives the contract entry points.
type Contract struct {
	iv invoker
}

// NewContract creates a contract adapter. Zero fields of cfg take defaults.
func NewContract(eng *engine.Engine, cfg Config) *Contract {
	return &Contract{iv: invoker{eng: eng, cfg: cfg.withDefaults()}}
}

// ValidateState asks whether state is valid for params given the related
// contracts supplied so far.
func (c *Contract) ValidateState(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, state contractruntime.State, related contractruntime.RelatedContracts) (contractruntime.ValidateResult, error) {
	const export = engine.ExportValidateState
	if err := c.iv.checkInput(export, "state", state); err != nil {
		return contractruntime.ValidateResult{}, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, state, wire.EncodeRelated(related))
	if err != nil {
		return contractruntime.ValidateResult{}, err
	}

	switch res.status {
	case StatusOK:
		return contractruntime.ValidateResult{Outcome: contractruntime.Valid}, nil
	case StatusInvalid:
		return contractruntime.ValidateResult{Outcome: contractruntime.Invalid}, nil
	case StatusRequiresRelated:
		ids, err := wire.DecodeIDSet(res.payload)
		if err != nil {
			return contractruntime.ValidateResult{}, errors.New(errors.PhaseMarshal, errors.KindInvalidOutput).
				Export(export).
				Detail("related id set").
				Cause(err).
				Build()
		}
		if len(ids) == 0 {
			return contractruntime.ValidateResult{}, errors.InvalidOutput(export, "requires related contracts but names none")
		}
		return contractruntime.ValidateResult{Outcome: contractruntime.RequiresRelated, Missing: ids}, nil
	default:
		return contractruntime.ValidateResult{}, unknownStatus(export, res.status)
	}
}

// UpdateState applies delta to state.
func (c *Contract) UpdateState(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, state contractruntime.State, delta contractruntime.StateDelta) (UpdateResult, error) {
	const export = engine.ExportUpdateState
	if err := c.iv.checkInput(export, "state", state); err != nil {
		return UpdateResult{}, err
	}
	if err := c.iv.checkInput(export, "delta", delta); err != nil {
		return UpdateResult{}, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, state, delta)
	if err != nil {
		return UpdateResult{}, err
	}
	return c.updated(export, state, res)
}

// UpdateStateFromSummary merges the state a peer summarized as summary
// into state. Contracts that do not export update_state_from_summary fail
// with MissingExport.
func (c *Contract) UpdateStateFromSummary(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, state contractruntime.State, summary contractruntime.StateSummary) (UpdateResult, error) {
	const export = engine.ExportUpdateFromSummary
	if !art.HasExport(export) {
		return UpdateResult{}, errors.MissingExport(export)
	}
	if err := c.iv.checkInput(export, "state", state); err != nil {
		return UpdateResult{}, err
	}
	if err := c.iv.checkInput(export, "summary", summary); err != nil {
		return UpdateResult{}, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, state, summary)
	if err != nil {
		return UpdateResult{}, err
	}
	return c.updated(export, state, res)
}

// updated interprets the answer of an update entry point.
func (c *Contract) updated(export string, state contractruntime.State, res result) (UpdateResult, error) {
	switch res.status {
	case StatusOK:
		if len(res.payload) > c.iv.cfg.MaxStateSize {
			return UpdateResult{}, tooLarge(export, "new state", len(res.payload), c.iv.cfg.MaxStateSize)
		}
		return UpdateResult{State: contractruntime.State(res.payload), Changed: true}, nil
	case StatusRejected:
		return UpdateResult{}, errors.LogicRejected(export, reason(res.payload))
	case StatusNoChange:
		return UpdateResult{State: state, Changed: false}, nil
	default:
		return UpdateResult{}, unknownStatus(export, res.status)
	}
}

// SummarizeState returns the contract's compact digest of state. A summary
// larger than the state it digests is invalid output.
func (c *Contract) SummarizeState(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, state contractruntime.State) (contractruntime.StateSummary, error) {
	const export = engine.ExportSummarizeState
	if err := c.iv.checkInput(export, "state", state); err != nil {
		return nil, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, state)
	if err != nil {
		return nil, err
	}
	if res.status != StatusOK {
		return nil, unknownStatus(export, res.status)
	}
	if len(res.payload) > len(state) {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidOutput).
			Export(export).
			Detail("summary of %d bytes exceeds state of %d bytes", len(res.payload), len(state)).
			Build()
	}
	return contractruntime.StateSummary(res.payload), nil
}

// GetStateDelta returns the delta that brings a peer holding summary up to
// state.
func (c *Contract) GetStateDelta(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, state contractruntime.State, summary contractruntime.StateSummary) (contractruntime.StateDelta, error) {
	const export = engine.ExportGetStateDelta
	if err := c.iv.checkInput(export, "state", state); err != nil {
		return nil, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, state, summary)
	if err != nil {
		return nil, err
	}
	if res.status != StatusOK {
		return nil, unknownStatus(export, res.status)
	}
	if len(res.payload) > c.iv.cfg.MaxStateSize {
		return nil, tooLarge(export, "delta", len(res.payload), c.iv.cfg.MaxStateSize)
	}
	return contractruntime.StateDelta(res.payload), nil
}

// ValidateDelta checks a delta on its own, before any state is touched.
// Contracts that do not export validate_delta fail with MissingExport.
func (c *Contract) ValidateDelta(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, delta contractruntime.StateDelta) (bool, error) {
	const export = engine.ExportValidateDelta
	if !art.HasExport(export) {
		return false, errors.MissingExport(export)
	}
	if err := c.iv.checkInput(export, "delta", delta); err != nil {
		return false, err
	}

	res, err := c.iv.call(ctx, art, contractruntime.KindContract, export, params, delta)
	if err != nil {
		return false, err
	}
	switch res.status {
	case StatusOK:
		return true, nil
	case StatusInvalid:
		return false, nil
	default:
		return false, unknownStatus(export, res.status)
	}
}
