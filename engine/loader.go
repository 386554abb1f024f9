package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/errors"
)

// Load validates and compiles code into an artifact. The returned artifact
// carries one reference owned by the caller. Load never caches.
func (e *Engine) Load(ctx context.Context, code contractruntime.Code) (*Artifact, error) {
	if !code.Kind.Valid() {
		return nil, errors.Malformed("unknown module kind "+code.Kind.String(), nil)
	}
	if len(code.Bytes) == 0 {
		return nil, errors.Malformed("empty module", nil)
	}
	if len(code.Bytes) > e.cfg.MaxCodeSize {
		return nil, errors.Malformed("module exceeds maximum code size", nil)
	}
	if err := e.CheckVersion(code.Version); err != nil {
		return nil, err
	}

	compileCtx := experimental.WithFunctionListenerFactory(ctx, fuelListenerFactory{})
	compiled, err := e.runtime.CompileModule(compileCtx, code.Bytes)
	if err != nil {
		return nil, errors.Malformed("compile failed", err)
	}

	exports, err := validateModule(compiled, code.Kind)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	a := &Artifact{
		compiled: compiled,
		kind:     code.Kind,
		version:  code.Version,
		cost:     int64(len(code.Bytes)),
		exports:  exports,
		imports:  importNames(compiled),
	}
	a.refs.Store(1)

	Logger().Debug("module loaded",
		zap.Stringer("kind", code.Kind),
		zap.String("version", code.Version),
		zap.Int64("cost", a.cost),
		zap.Int("exports", len(exports)))
	return a, nil
}

// CheckVersion accepts versions with the host's major and minor and a patch
// no newer than the host's. Pre-release versions are rejected. Load runs it
// on every compilation; callers holding a compiled artifact run it again
// for each request that declares a version.
func (e *Engine) CheckVersion(declared string) error {
	v, err := semver.NewVersion(strings.TrimPrefix(declared, "v"))
	if err != nil {
		return errors.UnsupportedVersion(declared, err)
	}
	if v.PreRelease != "" ||
		v.Major != e.host.Major ||
		v.Minor != e.host.Minor ||
		v.Patch > e.host.Patch {
		return errors.UnsupportedVersion(declared, nil)
	}
	return nil
}

func validateModule(compiled wazero.CompiledModule, kind contractruntime.Kind) (map[string]struct{}, error) {
	mem, ok := compiled.ExportedMemories()[ExportMemory]
	if !ok || mem == nil {
		return nil, errors.MissingExport(ExportMemory)
	}

	fns := compiled.ExportedFunctions()
	exports := make(map[string]struct{}, len(fns))
	for _, spec := range requiredExports[kind] {
		def, ok := fns[spec.name]
		if !ok {
			if spec.optional {
				continue
			}
			return nil, errors.MissingExport(spec.name)
		}
		if !spec.sig.matches(def) {
			return nil, errors.New(errors.PhaseLoad, errors.KindMalformed).
				Export(spec.name).
				Detail("export has the wrong signature").
				Build()
		}
		exports[spec.name] = struct{}{}
	}

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if kind != contractruntime.KindDelegate || module != HostModule {
			return nil, errors.ForbiddenImport(module, name)
		}
		sig, ok := secretImports[name]
		if !ok {
			return nil, errors.ForbiddenImport(module, name)
		}
		if !sig.matches(def) {
			return nil, errors.New(errors.PhaseLoad, errors.KindForbiddenImport).
				Export(module + "." + name).
				Detail("import has the wrong signature").
				Build()
		}
	}
	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		return nil, errors.ForbiddenImport(module, name)
	}

	return exports, nil
}

func importNames(compiled wazero.CompiledModule) []string {
	defs := compiled.ImportedFunctions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		module, name, _ := def.Import()
		names = append(names, module+"."+name)
	}
	sort.Strings(names)
	return names
}
