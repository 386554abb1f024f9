package engine

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/contract-runtime/errors"
)

// Instance is a fresh sandbox created for exactly one call. It is bound to
// the context it was instantiated with: fuel, deadline and any secrets
// capability travel with that context.
type Instance struct {
	ctx      context.Context
	engine   *Engine
	artifact *Artifact
	module   api.Module
	memory   *Memory
	alloc    api.Function
	meter    *meter
	cancel   context.CancelCauseFunc
	stop     context.CancelFunc
	limits   Limits
	once     sync.Once
}

// Instantiate creates a sandbox for artifact. It fails with
// ResourceExhausted when the engine's instance ceiling is reached or the
// module's initial memory exceeds the per-call ceiling.
func (e *Engine) Instantiate(ctx context.Context, artifact *Artifact, limits Limits) (*Instance, error) {
	if e.closed.Load() {
		return nil, errors.ResourceExhausted("engine closed", nil)
	}
	if !e.slots.TryAcquire(1) {
		return nil, errors.ResourceExhausted("instance limit reached", nil)
	}
	if limits.MaxMemoryPages == 0 || limits.MaxMemoryPages > e.cfg.MemoryLimitPages {
		limits.MaxMemoryPages = e.cfg.MemoryLimitPages
	}

	artifact.Retain()

	callCtx, cancel := context.WithCancelCause(ctx)
	stop := context.CancelFunc(func() {})
	if limits.Timeout > 0 {
		callCtx, stop = context.WithTimeout(callCtx, limits.Timeout)
	}
	var m *meter
	if limits.Fuel > 0 {
		m = newMeter(limits.Fuel, cancel)
		callCtx = context.WithValue(callCtx, meterKey{}, m)
	}

	inst := &Instance{
		ctx:      callCtx,
		engine:   e,
		artifact: artifact,
		meter:    m,
		cancel:   cancel,
		stop:     stop,
		limits:   limits,
	}
	e.live.Add(1)

	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(callCtx, artifact.compiled, modCfg)
	if err != nil {
		err = inst.instantiateError(err)
		inst.Close()
		return nil, err
	}
	inst.module = mod
	inst.memory = &Memory{mem: mod.ExportedMemory(ExportMemory)}
	inst.alloc = mod.ExportedFunction(ExportAlloc)

	if inst.memory.Pages() > limits.MaxMemoryPages {
		inst.Close()
		return nil, errors.ResourceExhausted("initial memory exceeds ceiling", nil)
	}

	return inst, nil
}

// Artifact returns the artifact the instance was created from.
func (i *Instance) Artifact() *Artifact { return i.artifact }

// Memory returns the instance's linear memory.
func (i *Instance) Memory() *Memory { return i.memory }

// Context returns the call context of the instance.
func (i *Instance) Context() context.Context { return i.ctx }

// FuelUsed returns the fuel consumed so far, or 0 when fuel is unlimited.
func (i *Instance) FuelUsed() uint64 {
	if i.meter == nil {
		return 0
	}
	return i.meter.used(i.limits.Fuel)
}

// Call invokes an export. Guest failures are classified into trap and
// timeout errors.
func (i *Instance) Call(export string, args ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, errors.MissingExport(export)
	}
	results, err := fn.Call(i.ctx, args...)
	if err != nil {
		return nil, i.classify(export, err)
	}
	if i.memory.Pages() > i.limits.MaxMemoryPages {
		return nil, errors.New(errors.PhaseInvoke, errors.KindResourceExhausted).
			Export(export).
			Detail("guest grew memory to %d pages, ceiling is %d", i.memory.Pages(), i.limits.MaxMemoryPages).
			Build()
	}
	return results, nil
}

// Place copies data into guest memory through the guest allocator and
// returns its address. Memory is grown when the allocator hands out an
// unbacked region. Empty data is passed as (0, 0) without calling alloc.
func (i *Instance) Place(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size := uint32(len(data))
	res, err := i.Call(ExportAlloc, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if err := i.ensure(ptr, size); err != nil {
		return 0, err
	}
	if err := i.memory.Write(ptr, data); err != nil {
		return 0, errors.Trap(errors.KindOutOfBoundsMemory, ExportAlloc, err)
	}
	return ptr, nil
}

// ensure grows memory until [ptr, ptr+size) is backed, within the ceiling.
func (i *Instance) ensure(ptr, size uint32) error {
	end := uint64(ptr) + uint64(size)
	have := uint64(i.memory.Size())
	if end <= have {
		return nil
	}
	need := (end - have + PageSize - 1) / PageSize
	if uint64(i.memory.Pages())+need > uint64(i.limits.MaxMemoryPages) {
		return errors.New(errors.PhaseMarshal, errors.KindResourceExhausted).
			Export(ExportAlloc).
			Detail("argument of %d bytes needs %d more pages, ceiling is %d", size, need, i.limits.MaxMemoryPages).
			Build()
	}
	if _, ok := i.memory.mem.Grow(uint32(need)); !ok {
		return errors.New(errors.PhaseMarshal, errors.KindResourceExhausted).
			Export(ExportAlloc).
			Detail("memory grow by %d pages refused", need).
			Build()
	}
	return nil
}

// Close tears the sandbox down. It is safe to call more than once.
func (i *Instance) Close() {
	i.once.Do(func() {
		if i.module != nil {
			if err := i.module.Close(context.Background()); err != nil {
				Logger().Debug("close instance", zap.Error(err))
			}
			i.module = nil
		}
		i.stop()
		i.cancel(nil)
		i.memory = nil
		i.alloc = nil
		i.artifact.Release()
		i.engine.live.Add(-1)
		i.engine.slots.Release(1)
	})
}

// instantiateError classifies a failed instantiation. Resource ceilings
// are enforced at load and by the caller, so what remains is a guest
// defect: a data segment outside memory traps, anything else is malformed.
func (i *Instance) instantiateError(err error) error {
	if i.ctx.Err() != nil {
		return i.classify("", err)
	}
	if strings.Contains(err.Error(), "out of bounds memory access") {
		return errors.New(errors.PhaseInstantiate, errors.KindOutOfBoundsMemory).
			Detail("data segment initialization").
			Cause(err).
			Build()
	}
	return errors.New(errors.PhaseInstantiate, errors.KindMalformed).
		Detail("instantiate failed").
		Cause(err).
		Build()
}

// classify maps a wazero call error onto the runtime taxonomy.
func (i *Instance) classify(export string, err error) error {
	if i.ctx.Err() != nil {
		cause := context.Cause(i.ctx)
		switch {
		case stderrors.Is(cause, errFuelExhausted):
			return errors.Timeout(export, "fuel exhausted", err)
		case stderrors.Is(cause, context.DeadlineExceeded):
			return errors.Timeout(export, "deadline exceeded", err)
		default:
			return errors.Timeout(export, "call canceled", err)
		}
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return errors.Timeout(export, "call canceled", err)
		}
		return errors.Trap(errors.KindIllegalOp, export, err)
	}

	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return errors.Annotate(typed, "", export)
	}

	return errors.Trap(trapKind(err.Error()), export, err)
}

// trapKind separates memory faults from every other guest trap
// (unreachable, division by zero, stack overflow, bad indirect calls).
func trapKind(msg string) errors.Kind {
	if strings.Contains(msg, "out of bounds memory access") {
		return errors.KindOutOfBoundsMemory
	}
	return errors.KindIllegalOp
}
