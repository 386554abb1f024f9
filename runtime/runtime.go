package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/abi"
	"github.com/wippyai/contract-runtime/cache"
	"github.com/wippyai/contract-runtime/codestore"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/statestore"
)

// DefaultMaxRelatedRounds bounds fetch-and-retry rounds for related contracts.
const DefaultMaxRelatedRounds = 3

// Config holds runtime configuration. Zero fields take defaults.
type Config struct {
	// Logger receives call stage logs at debug level.
	Logger *zap.Logger
	// Hasher derives code hashes and identities. Nil selects identity.DefaultHasher.
	Hasher identity.Hasher
	// Cache sizes the compiled artifact cache.
	Cache cache.Config
	// Codes sizes the code registry. Its Hasher is replaced by Hasher.
	Codes codestore.Config
	// ABI bounds every contract and delegate call.
	ABI abi.Config
	// MaxRelatedRounds bounds how often Validate fetches related states
	// and retries. Negative disables fetching.
	MaxRelatedRounds int
	// Fetcher supplies related contract states. Nil disables fetching.
	Fetcher statestore.Fetcher
	// Secrets backs delegate secrets. Nil leaves delegates without storage.
	Secrets secrets.Store
	// Observer, if set, sees every stage of every call.
	Observer Observer
}

// Runtime is the entry point the node calls. It is safe for concurrent use.
type Runtime struct {
	eng       *engine.Engine
	cache     *cache.Cache
	codes     *codestore.Registry
	contracts *abi.Contract
	delegates *abi.Delegate
	hasher    identity.Hasher
	log       *zap.Logger
	cfg       Config
	calls     atomic.Uint64
}

// New creates a runtime on top of eng. The engine stays owned by the
// caller and must outlive the runtime.
func New(eng *engine.Engine, cfg Config) (*Runtime, error) {
	if eng == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "runtime needs an engine")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = identity.DefaultHasher
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxRelatedRounds == 0 {
		cfg.MaxRelatedRounds = DefaultMaxRelatedRounds
	}
	cfg.Codes.Hasher = cfg.Hasher

	return &Runtime{
		eng:       eng,
		cache:     cache.New(cfg.Cache),
		codes:     codestore.New(cfg.Codes),
		contracts: abi.NewContract(eng, cfg.ABI),
		delegates: abi.NewDelegate(eng, cfg.ABI),
		hasher:    cfg.Hasher,
		log:       cfg.Logger.Named("runtime"),
		cfg:       cfg,
	}, nil
}

// Hasher returns the hash collaborator used to derive identities.
func (r *Runtime) Hasher() identity.Hasher {
	return r.hasher
}

// Engine returns the engine calls run on.
func (r *Runtime) Engine() *engine.Engine {
	return r.eng
}

// Cache returns the compiled artifact cache.
func (r *Runtime) Cache() *cache.Cache {
	return r.cache
}

// Codes returns the code registry.
func (r *Runtime) Codes() *codestore.Registry {
	return r.codes
}

// Close drops every cached artifact and closes the code registry. Calls
// in progress keep their artifacts until they finish.
func (r *Runtime) Close(ctx context.Context) error {
	r.cache.Close()
	err := r.codes.Close()
	r.log.Debug("runtime closed", zap.Uint64("calls", r.calls.Load()))
	return err
}

// RegisterContract remembers contract code and returns the identity it
// gets when bound with params.
func (r *Runtime) RegisterContract(code contractruntime.Code, params contractruntime.Parameters) (identity.ContractKey, error) {
	if code.Kind != contractruntime.KindContract {
		return identity.ContractKey{}, errors.InvalidInput(errors.PhaseResolve, "not contract code: "+code.Kind.String())
	}
	h, err := r.codes.Put(code)
	if err != nil {
		return identity.ContractKey{}, err
	}
	return identity.ContractKeyFromCodeHash(r.hasher, h, params), nil
}

// RegisterDelegate remembers delegate code and returns the identity it
// gets when bound with params.
func (r *Runtime) RegisterDelegate(code contractruntime.Code, params contractruntime.Parameters) (identity.DelegateKey, error) {
	if code.Kind != contractruntime.KindDelegate {
		return identity.DelegateKey{}, errors.InvalidInput(errors.PhaseResolve, "not delegate code: "+code.Kind.String())
	}
	h, err := r.codes.Put(code)
	if err != nil {
		return identity.DelegateKey{}, err
	}
	return identity.DelegateKeyFromCodeHash(r.hasher, h, params), nil
}

// target is the resolved subject of one call.
type target struct {
	code     *contractruntime.Code
	params   contractruntime.Parameters
	id       identity.Key
	codeHash identity.Key
	kind     contractruntime.Kind
}

// acquire resolves t to a compiled artifact. The caller releases it.
func (r *Runtime) acquire(ctx context.Context, c *call, t *target) (*engine.Artifact, error) {
	c.stage(StageResolving)

	if t.codeHash.IsZero() {
		if t.code == nil {
			return nil, errors.InvalidInput(errors.PhaseResolve, "request names no code hash and carries no code")
		}
		t.codeHash = r.hasher.Hash(t.code.Bytes)
	}
	derived := r.hasher.Hash(t.codeHash[:], t.params)
	if t.id.IsZero() {
		t.id = derived
	}
	c.identity = t.id.String()
	if t.id != derived {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Detail("identity does not derive from code hash %s and parameters", t.codeHash.Short()).
			Build()
	}

	var code contractruntime.Code
	if t.code != nil {
		code = *t.code
		if code.Kind != t.kind {
			return nil, errors.InvalidInput(errors.PhaseResolve, "request for a "+t.kind.String()+" carries "+code.Kind.String()+" code")
		}
		if err := r.eng.CheckVersion(code.Version); err != nil {
			return nil, err
		}
		if err := r.codes.Verify(t.codeHash, code); err != nil {
			return nil, err
		}
	} else {
		got, ok, err := r.codes.Get(t.codeHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NotFound(errors.PhaseResolve, "code", t.codeHash.String())
		}
		if got.Kind != t.kind {
			return nil, errors.InvalidInput(errors.PhaseResolve, "code "+t.codeHash.Short()+" is "+got.Kind.String()+" code")
		}
		code = got
	}
	if err := r.eng.CheckVersion(code.Version); err != nil {
		return nil, err
	}

	art, src, err := r.cache.GetOrCompile(ctx, artifactKey(r.hasher, t.codeHash, code.Kind), cache.Load(r.eng, code))
	if err != nil {
		return nil, err
	}
	if t.code != nil {
		if _, err := r.codes.Put(code); err != nil {
			art.Release()
			return nil, err
		}
	}
	if src == cache.SourceCache {
		c.stage(StageCacheHit)
	} else {
		c.stage(StageCompiling)
	}
	return art, nil
}

// artifactKey names the cached artifact for code compiled as kind. The
// loader validates exports per kind, so one code hash may hold two.
func artifactKey(h identity.Hasher, codeHash identity.Key, kind contractruntime.Kind) identity.Key {
	return h.Hash(codeHash[:], []byte{byte(kind)})
}

// invokeContext reports Instantiating now and Invoking once the sandbox
// exists.
func (c *call) invokeContext(ctx context.Context) context.Context {
	c.stage(StageInstantiating)
	return engine.WithInstanceHook(ctx, func(*engine.Instance) {
		c.stage(StageInvoking)
	})
}
