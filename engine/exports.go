package engine

import (
	"github.com/tetratelabs/wazero/api"

	contractruntime "github.com/wippyai/contract-runtime"
)

// Common exports.
const (
	ExportMemory = "memory"
	ExportAlloc  = "alloc"
)

// Contract exports.
const (
	ExportValidateState  = "validate_state"
	ExportUpdateState    = "update_state"
	ExportSummarizeState = "summarize_state"
	ExportGetStateDelta  = "get_state_delta"
	ExportValidateDelta  = "validate_delta"

	ExportUpdateFromSummary = "update_state_from_summary"
)

// Delegate exports.
const ExportProcess = "process"

// Host module and imports available to delegates.
const (
	HostModule         = "secrets"
	ImportGetSecret    = "get_secret"
	ImportSetSecret    = "set_secret"
	ImportRemoveSecret = "remove_secret"
)

type signature struct {
	params  int
	results []api.ValueType
}

func i32Result(params int) signature {
	return signature{params: params, results: []api.ValueType{api.ValueTypeI32}}
}

func (s signature) matches(def api.FunctionDefinition) bool {
	pt := def.ParamTypes()
	if len(pt) != s.params {
		return false
	}
	for _, t := range pt {
		if t != api.ValueTypeI32 {
			return false
		}
	}
	rt := def.ResultTypes()
	if len(rt) != len(s.results) {
		return false
	}
	for i, t := range rt {
		if t != s.results[i] {
			return false
		}
	}
	return true
}

type exportSpec struct {
	name     string
	sig      signature
	optional bool
}

var requiredExports = map[contractruntime.Kind][]exportSpec{
	contractruntime.KindContract: {
		{name: ExportAlloc, sig: i32Result(1)},
		{name: ExportValidateState, sig: i32Result(6)},
		{name: ExportUpdateState, sig: i32Result(6)},
		{name: ExportSummarizeState, sig: i32Result(4)},
		{name: ExportGetStateDelta, sig: i32Result(6)},
		{name: ExportValidateDelta, sig: i32Result(4), optional: true},
		{name: ExportUpdateFromSummary, sig: i32Result(6), optional: true},
	},
	contractruntime.KindDelegate: {
		{name: ExportAlloc, sig: i32Result(1)},
		{name: ExportProcess, sig: i32Result(4)},
	},
}

var secretImports = map[string]signature{
	ImportGetSecret:    {params: 4, results: []api.ValueType{api.ValueTypeI64}},
	ImportSetSecret:    i32Result(4),
	ImportRemoveSecret: i32Result(2),
}
