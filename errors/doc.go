// Package errors provides the structured error taxonomy of the contract runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (what
// went wrong). Kinds are grouped into families that drive caller policy:
//
//	load           malformed, missing_export, unsupported_abi_version, forbidden_import
//	instantiation  resource_exhausted (retry after backoff)
//	trap           illegal_op, out_of_bounds_memory, invalid_output
//	timeout        timeout (fuel or wall clock)
//	rejected       too_large, logic_rejected (a normal outcome, not a fault)
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindTimeout).
//		Identity(key.String()).
//		Export("update_state").
//		Detail("fuel exhausted").
//		Build()
//
// Sentinels match on kind regardless of phase:
//
//	if errors.Is(err, errors.ErrTimeout) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
