// Package contractruntime executes untrusted WebAssembly contracts and
// delegates on behalf of a peer-to-peer node.
//
// A contract governs a piece of shared state through four exports
// (validate_state, update_state, summarize_state, get_state_delta). A
// delegate keeps private secrets and turns inbound messages into outbound
// ones through a single process export. Both run in a fresh sandbox per call,
// under fuel, wall-clock and memory ceilings.
//
// # Architecture Overview
//
//	contractruntime/     Root package with the buffer types and Memory interface
//	├── runtime/         Execution coordinator, the API the node calls
//	├── engine/          Module loader and sandbox instance manager (wazero)
//	├── cache/           Cost-bounded cache of compiled artifacts
//	├── abi/             Contract and delegate calling conventions
//	├── secrets/         Per-delegate secret stores and capability accessors
//	├── wire/            Length-prefixed encodings shared with guests
//	├── identity/        Keys and the hashing collaborator
//	├── codestore/       Registry of code bytes seen on the network
//	├── statestore/      State fetchers used to satisfy related-contract requests
//	├── config/          TOML configuration
//	├── cmd/contract-runner/  CLI and interactive runner
//	└── errors/          Structured error taxonomy
//
// # Quick Start
//
//	eng, err := engine.New(ctx, engine.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	rt, err := runtime.New(eng, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	key := identity.NewContractKey(rt.Hasher(), code.Bytes, params)
//	res, err := rt.Validate(ctx, runtime.ValidateRequest{
//	    Key:        key,
//	    Code:       &code,
//	    Parameters: params,
//	    State:      state,
//	})
//
// # Thread Safety
//
// Runtime, Engine and Cache are safe for concurrent use. Calls against the
// same contract state must be serialized by the caller: the runtime does not
// lock state buffers it does not own.
package contractruntime
