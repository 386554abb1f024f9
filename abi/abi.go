// Package abi implements the contract and delegate calling conventions on
// top of engine sandboxes.
//
// Every argument is copied into guest memory through the guest's alloc
// export and passed as a (ptr, len) pair. Each entry point returns a
// pointer to a 12-byte descriptor {status, ptr, len}; the described region
// is copied out before the sandbox is torn down. Descriptors or regions
// outside guest memory, unknown status codes and undecodable payloads are
// reported as invalid output.
package abi

import (
	"context"
	"strings"
	"unicode/utf8"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/wire"
)

// Config bounds adapter calls.
type Config struct {
	// Limits apply to every sandbox the adapter creates.
	Limits engine.Limits
	// MaxStateSize bounds states and deltas crossing the boundary in either direction.
	MaxStateSize int
	// MaxOutputSize bounds any payload a guest returns.
	MaxOutputSize int
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Limits:        engine.DefaultLimits(),
		MaxStateSize:  10 << 20,
		MaxOutputSize: 16 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Limits == (engine.Limits{}) {
		c.Limits = d.Limits
	}
	if c.MaxStateSize <= 0 {
		c.MaxStateSize = d.MaxStateSize
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = d.MaxOutputSize
	}
	return c
}

// Result status codes shared by the entry points.
const (
	StatusOK              uint32 = 0
	StatusInvalid         uint32 = 1
	StatusRejected        uint32 = 1
	StatusRequiresRelated uint32 = 2
	StatusNoChange        uint32 = 3
)

// maxReason bounds the rejection reason copied into errors.
const maxReason = 256

type invoker struct {
	eng *engine.Engine
	cfg Config
}

type result struct {
	payload []byte
	status  uint32
}

// call runs one entry point in a fresh sandbox.
func (iv *invoker) call(ctx context.Context, art *engine.Artifact, kind contractruntime.Kind, export string, args ...[]byte) (result, error) {
	if art.Kind() != kind {
		return result{}, errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Export(export).
			Detail("artifact is a %s, not a %s", art.Kind(), kind).
			Build()
	}

	var out result
	err := iv.eng.Run(ctx, art, iv.cfg.Limits, func(inst *engine.Instance) error {
		params := make([]uint64, 0, 2*len(args))
		for _, a := range args {
			ptr, err := inst.Place(a)
			if err != nil {
				return err
			}
			params = append(params, uint64(ptr), uint64(len(a)))
		}

		res, err := inst.Call(export, params...)
		if err != nil {
			return err
		}
		if len(res) != 1 {
			return errors.InvalidOutput(export, "entry point returned no descriptor")
		}

		mem := inst.Memory()
		raw, err := mem.Read(uint32(res[0]), wire.DescriptorSize)
		if err != nil {
			return errors.InvalidOutput(export, "descriptor outside guest memory")
		}
		d, err := wire.DecodeDescriptor(raw)
		if err != nil {
			return errors.InvalidOutput(export, err.Error())
		}
		if !mem.Contains(d.Ptr, d.Len) {
			return errors.InvalidOutput(export, "result region outside guest memory")
		}
		if int64(d.Len) > int64(iv.cfg.MaxOutputSize) {
			return tooLarge(export, "output", int(d.Len), iv.cfg.MaxOutputSize)
		}
		payload, err := mem.Read(d.Ptr, d.Len)
		if err != nil {
			return errors.InvalidOutput(export, "result region outside guest memory")
		}
		out = result{status: d.Status, payload: payload}
		return nil
	})
	if err != nil {
		return result{}, errors.Annotate(err, "", export)
	}
	return out, nil
}

func tooLarge(export, what string, size, limit int) *errors.Error {
	e := errors.TooLarge(errors.PhaseInvoke, what, size, limit)
	e.Export = export
	return e
}

func (iv *invoker) checkInput(export, what string, b []byte) error {
	if len(b) > iv.cfg.MaxStateSize {
		e := errors.TooLarge(errors.PhaseMarshal, what, len(b), iv.cfg.MaxStateSize)
		e.Export = export
		return e
	}
	return nil
}

func unknownStatus(export string, status uint32) error {
	return errors.New(errors.PhaseMarshal, errors.KindInvalidOutput).
		Export(export).
		Detail("unknown status %d", status).
		Build()
}

// reason renders a guest rejection payload for error messages.
func reason(payload []byte) string {
	if len(payload) > maxReason {
		payload = payload[:maxReason]
	}
	s := string(payload)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}
