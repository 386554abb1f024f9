package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/coreos/go-semver/semver"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/contract-runtime/errors"
)

// Engine owns the wazero runtime shared by every artifact it loads.
// It holds no per-contract state and is safe for concurrent use.
type Engine struct {
	runtime wazero.Runtime
	slots   *semaphore.Weighted
	host    *semver.Version
	cfg     Config
	live    atomic.Int64
	closed  atomic.Bool
}

// New creates an engine. The secrets host module is registered up front so
// delegate imports resolve at instantiation.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	host, err := semver.NewVersion(cfg.ABIVersion)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("host abi version %q", cfg.ABIVersion).
			Cause(err).
			Build()
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	if cfg.CompilationCacheDir != "" {
		cc, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache directory")
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cc)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if err := instantiateSecretsModule(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("register %s host module: %w", HostModule, err)
	}

	Logger().Debug("engine created",
		zap.String("abi", host.String()),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Int64("max_instances", cfg.MaxInstances))

	return &Engine{
		runtime: runtime,
		slots:   semaphore.NewWeighted(cfg.MaxInstances),
		host:    host,
		cfg:     cfg,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ABIVersion returns the host ABI version guests are checked against.
func (e *Engine) ABIVersion() string {
	return e.host.String()
}

// LiveInstances returns the number of sandboxes currently instantiated.
func (e *Engine) LiveInstances() int64 {
	return e.live.Load()
}

// Close releases the wazero runtime. Artifacts and instances created by the
// engine must not be used afterwards.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.runtime.Close(ctx)
}

// Run instantiates artifact, hands the instance to fn and tears it down on
// every path. Panics raised while fn runs are recovered into typed errors.
func (e *Engine) Run(ctx context.Context, artifact *Artifact, limits Limits, fn func(*Instance) error) (err error) {
	inst, err := e.Instantiate(ctx, artifact, limits)
	if err != nil {
		return err
	}
	defer inst.Close()
	if hook, ok := ctx.Value(instanceHookKey{}).(func(*Instance)); ok {
		hook(inst)
	}
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return fn(inst)
}

type instanceHookKey struct{}

// WithInstanceHook returns a context under which Run calls hook with every
// instance it creates, before the instance is handed to its callback.
func WithInstanceHook(ctx context.Context, hook func(*Instance)) context.Context {
	return context.WithValue(ctx, instanceHookKey{}, hook)
}

func recovered(r any) error {
	switch v := r.(type) {
	case *errors.Error:
		return v
	case error:
		return errors.Wrap(errors.PhaseInvoke, errors.KindIllegalOp, v, "recovered panic")
	default:
		return errors.New(errors.PhaseInvoke, errors.KindIllegalOp).
			Detail("recovered panic: %v", v).
			Build()
	}
}
