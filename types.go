package contractruntime

import (
	"fmt"

	"github.com/wippyai/contract-runtime/identity"
)

// Kind selects which ABI a module implements.
type Kind uint8

const (
	KindContract Kind = iota + 1
	KindDelegate
)

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindDelegate:
		return "delegate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known module kind.
func (k Kind) Valid() bool {
	return k == KindContract || k == KindDelegate
}

// Code is an immutable module binary together with the ABI version it
// declares and the kind of module it is.
type Code struct {
	Version string
	Bytes   []byte
	Kind    Kind
}

// Parameters bind a contract or delegate instance; they are part of its identity.
type Parameters []byte

// State is the full application data of one contract instance.
type State []byte

// StateDelta is an opaque diff produced by a contract.
type StateDelta []byte

// StateSummary is a compact digest of a state used for sync negotiation.
type StateSummary []byte

// Message is an opaque delegate message payload.
type Message []byte

// Size returns the length of the buffer in bytes.
func (p Parameters) Size() int   { return len(p) }
func (s State) Size() int        { return len(s) }
func (d StateDelta) Size() int   { return len(d) }
func (s StateSummary) Size() int { return len(s) }

// Outcome is the verdict of a validation call.
type Outcome uint8

const (
	Valid Outcome = iota
	Invalid
	RequiresRelated
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case RequiresRelated:
		return "requires-related"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// RelatedContracts maps the identities a contract depends on to their states.
// A nil state means the dependency is declared but its state is not available.
type RelatedContracts map[identity.Key]State

// ValidateResult is the decoded answer of validate_state. Missing is only
// set when Outcome is RequiresRelated.
type ValidateResult struct {
	Missing []identity.Key
	Outcome Outcome
}
