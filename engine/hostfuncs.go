package engine

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/contract-runtime/errors"
)

// Secrets is the capability a delegate call uses to reach its own secret
// namespace. Implementations are bound to one delegate before being
// attached to a call context.
type Secrets interface {
	Get(ctx context.Context, name []byte) ([]byte, bool, error)
	Set(ctx context.Context, name, value []byte) error
	Remove(ctx context.Context, name []byte) (bool, error)
}

// ErrSecretRejected is returned by a Secrets implementation that refuses a
// write, such as an oversized value. The guest sees -1 instead of a trap.
var ErrSecretRejected = stderrors.New("secret rejected")

type secretsKey struct{}

// WithSecrets attaches a secrets capability to a call context. The host
// functions of the secrets module resolve it from the context of the call
// they serve, so a guest only reaches the namespace its caller bound.
func WithSecrets(ctx context.Context, s Secrets) context.Context {
	return context.WithValue(ctx, secretsKey{}, s)
}

func secretsFrom(ctx context.Context) Secrets {
	s, _ := ctx.Value(secretsKey{}).(Secrets)
	return s
}

func instantiateSecretsModule(ctx context.Context, r wazero.Runtime) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64
	_, err := r.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(getSecret), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i64}).
		WithParameterNames("key_ptr", "key_len", "buf_ptr", "buf_cap").
		Export(ImportGetSecret).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(setSecret), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_len").
		Export(ImportSetSecret).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(removeSecret), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("key_ptr", "key_len").
		Export(ImportRemoveSecret).
		Instantiate(ctx)
	return err
}

// guestBytes copies a region of guest memory or traps the call.
func guestBytes(mod api.Module, fn string, ptr, length uint32) []byte {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(errors.New(errors.PhaseInvoke, errors.KindOutOfBoundsMemory).
			Export(HostModule+"."+fn).
			Detail("guest region [%d, +%d) out of bounds memory access", ptr, length).
			Build())
	}
	return append([]byte(nil), data...)
}

func storeFailure(fn string, name []byte, err error) *errors.Error {
	return errors.New(errors.PhaseStore, errors.KindStore).
		Export(HostModule+"."+fn).
		Detail("secret %q", name).
		Cause(err).
		Build()
}

// getSecret returns the value length, or -1 when missing. The value is
// written only when it fits the guest buffer.
func getSecret(ctx context.Context, mod api.Module, stack []uint64) {
	name := guestBytes(mod, ImportGetSecret, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	bufPtr, bufCap := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])

	s := secretsFrom(ctx)
	if s == nil {
		stack[0] = api.EncodeI64(-1)
		return
	}
	val, ok, err := s.Get(ctx, name)
	if err != nil {
		panic(storeFailure(ImportGetSecret, name, err))
	}
	if !ok {
		stack[0] = api.EncodeI64(-1)
		return
	}
	if uint64(len(val)) <= uint64(bufCap) {
		if !mod.Memory().Write(bufPtr, val) {
			panic(errors.New(errors.PhaseInvoke, errors.KindOutOfBoundsMemory).
				Export(HostModule+"."+ImportGetSecret).
				Detail("guest buffer at %d out of bounds memory access", bufPtr).
				Build())
		}
	}
	stack[0] = api.EncodeI64(int64(len(val)))
}

// setSecret returns 0 on success and -1 when the write is refused or no
// secret store is bound.
func setSecret(ctx context.Context, mod api.Module, stack []uint64) {
	name := guestBytes(mod, ImportSetSecret, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	val := guestBytes(mod, ImportSetSecret, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))

	s := secretsFrom(ctx)
	if s == nil {
		stack[0] = api.EncodeI32(-1)
		return
	}
	if err := s.Set(ctx, name, val); err != nil {
		if stderrors.Is(err, ErrSecretRejected) {
			stack[0] = api.EncodeI32(-1)
			return
		}
		panic(storeFailure(ImportSetSecret, name, err))
	}
	stack[0] = api.EncodeI32(0)
}

// removeSecret returns 0 when a secret was removed and -1 when missing.
func removeSecret(ctx context.Context, mod api.Module, stack []uint64) {
	name := guestBytes(mod, ImportRemoveSecret, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))

	s := secretsFrom(ctx)
	if s == nil {
		stack[0] = api.EncodeI32(-1)
		return
	}
	ok, err := s.Remove(ctx, name)
	if err != nil {
		panic(storeFailure(ImportRemoveSecret, name, err))
	}
	if !ok {
		stack[0] = api.EncodeI32(-1)
		return
	}
	stack[0] = api.EncodeI32(0)
}
