// Package engine loads contract and delegate modules and runs them in
// per-call sandboxes.
//
// This package wraps wazero. It validates module binaries against the
// contract and delegate ABIs, compiles them into reference-counted
// artifacts, and creates a fresh anonymous instance for every call.
//
// # Architecture
//
//	Engine    - Owns the wazero runtime, the secrets host module and the instance ceiling
//	Artifact  - An immutable compiled module, released when its last holder is done
//	Instance  - A sandbox bound to one call's context, fuel and deadline
//
// # Loading
//
// Load performs every static check before an artifact exists:
//
//  1. The declared ABI version must share the host's major and minor
//     version, with a patch no newer than the host's
//  2. The binary must compile
//  3. memory and alloc must be exported, plus the kind's entry points with
//     their exact signatures
//  4. Contracts import nothing; delegates import only from the secrets module
//
// # Limits
//
// Each call runs under Limits. Fuel is charged once per guest function
// entry by a function listener installed at compile time. Exhausting it,
// or hitting the wall-clock timeout, cancels the call context, and the
// runtime's close-on-context-done setting stops the guest even inside a
// loop. Memory the host grows while placing arguments is checked against
// MaxMemoryPages.
//
// # Secrets
//
// Delegates reach their secret namespace through three host imports:
//
//	get_secret(key_ptr, key_len, buf_ptr, buf_cap) -> i64
//	set_secret(key_ptr, key_len, val_ptr, val_len) -> i32
//	remove_secret(key_ptr, key_len) -> i32
//
// The namespace is the Secrets value attached to the call context with
// WithSecrets; nothing else is reachable from a guest.
//
// # Usage
//
//	eng, err := engine.New(ctx, engine.DefaultConfig())
//	art, err := eng.Load(ctx, code)
//	defer art.Release()
//
//	err = eng.Run(ctx, art, engine.DefaultLimits(), func(inst *engine.Instance) error {
//	    ptr, err := inst.Place(params)
//	    ...
//	    _, err = inst.Call(engine.ExportSummarizeState, ...)
//	    return err
//	})
package engine
