package abi

import (
	"context"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/wire"
)

// Delegate drives the delegate entry point.
type Delegate struct {
	iv invoker
}

// NewDelegate creates a delegate adapter. Zero fields of cfg take defaults.
func NewDelegate(eng *engine.Engine, cfg Config) *Delegate {
	return &Delegate{iv: invoker{eng: eng, cfg: cfg.withDefaults()}}
}

// Process hands inbound messages to the delegate and returns the messages
// it emits. secrets is the only storage the guest can reach during the
// call; nil leaves it without any.
func (d *Delegate) Process(ctx context.Context, art *engine.Artifact, params contractruntime.Parameters, secrets engine.Secrets, inbound []contractruntime.Message) ([]contractruntime.Message, error) {
	const export = engine.ExportProcess
	if secrets != nil {
		ctx = engine.WithSecrets(ctx, secrets)
	}

	encoded := wire.EncodeMessages(inbound)
	if len(encoded) > d.iv.cfg.MaxOutputSize {
		e := errors.TooLarge(errors.PhaseMarshal, "inbound messages", len(encoded), d.iv.cfg.MaxOutputSize)
		e.Export = export
		return nil, e
	}

	res, err := d.iv.call(ctx, art, contractruntime.KindDelegate, export, params, encoded)
	if err != nil {
		return nil, err
	}

	switch res.status {
	case StatusOK:
		msgs, err := wire.DecodeMessages(res.payload)
		if err != nil {
			return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidOutput).
				Export(export).
				Detail("outbound message list").
				Cause(err).
				Build()
		}
		return msgs, nil
	case StatusRejected:
		return nil, errors.LogicRejected(export, reason(res.payload))
	default:
		return nil, unknownStatus(export, res.status)
	}
}
