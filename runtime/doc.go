// Package runtime coordinates contract and delegate calls.
//
// A Runtime resolves the code a request names, obtains a compiled artifact
// from the cache (compiling on a miss), runs the requested entry point in a
// fresh sandbox and returns a typed result. Every call moves through the
// stages Requested, Resolving, Compiling or CacheHit, Instantiating,
// Invoking and finally Completed or Failed; an Observer sees each one.
//
// # Code resolution
//
// A request either carries the module code or names it only by code hash.
// Carried code is checked against the key and remembered, so later requests
// for the same identity can omit it:
//
//	key, err := rt.RegisterContract(code, params)
//	res, err := rt.Validate(ctx, runtime.ValidateRequest{
//	    Key:        key,
//	    Parameters: params,
//	    State:      state,
//	})
//
// # Related contracts
//
// When validate_state asks for the states of other contracts and a
// statestore.Fetcher is configured, the runtime fetches the missing states
// and retries, up to MaxRelatedRounds times. Without a fetcher the
// RequiresRelated result is returned to the caller.
//
// # Errors
//
// Every error returned is an *errors.Error annotated with the identity and
// export of the failed call.
package runtime
