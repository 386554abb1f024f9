package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in a call the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // static validation and compilation
	PhaseCompile     Phase = "compile"     // compiled module cache
	PhaseInstantiate Phase = "instantiate" // sandbox creation
	PhaseInvoke      Phase = "invoke"      // guest execution
	PhaseMarshal     Phase = "marshal"     // host <-> guest buffers
	PhaseResolve     Phase = "resolve"     // identity and code resolution
	PhaseStore       Phase = "store"       // collaborator storage
	PhaseConfig      Phase = "config"      // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindMalformed          Kind = "malformed"
	KindMissingExport      Kind = "missing_export"
	KindUnsupportedVersion Kind = "unsupported_abi_version"
	KindForbiddenImport    Kind = "forbidden_import"

	KindResourceExhausted Kind = "resource_exhausted"

	KindIllegalOp         Kind = "illegal_op"
	KindOutOfBoundsMemory Kind = "out_of_bounds_memory"
	KindInvalidOutput     Kind = "invalid_output"

	KindTimeout Kind = "timeout"

	KindTooLarge      Kind = "too_large"
	KindLogicRejected Kind = "logic_rejected"

	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindStore        Kind = "store"
)

// Family groups kinds the way callers decide on retries and peer penalties.
type Family string

const (
	FamilyLoad          Family = "load"
	FamilyInstantiation Family = "instantiation"
	FamilyTrap          Family = "trap"
	FamilyTimeout       Family = "timeout"
	FamilyRejected      Family = "rejected"
	FamilyOther         Family = "other"
)

// Family returns the family the kind belongs to.
func (k Kind) Family() Family {
	switch k {
	case KindMalformed, KindMissingExport, KindUnsupportedVersion, KindForbiddenImport:
		return FamilyLoad
	case KindResourceExhausted:
		return FamilyInstantiation
	case KindIllegalOp, KindOutOfBoundsMemory, KindInvalidOutput:
		return FamilyTrap
	case KindTimeout:
		return FamilyTimeout
	case KindTooLarge, KindLogicRejected:
		return FamilyRejected
	default:
		return FamilyOther
	}
}

// Error is the structured error type returned by every package of the runtime
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Identity string
	Export   string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Export != "" || e.Identity != "" {
		b.WriteString(" (")
		if e.Export != "" {
			b.WriteString(e.Export)
		}
		if e.Identity != "" {
			if e.Export != "" {
				b.WriteString(" @ ")
			}
			b.WriteString(e.Identity)
		}
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Family returns the family of the error's kind.
func (e *Error) Family() Family {
	return e.Kind.Family()
}

// Sentinels for errors.Is checks that do not care about the phase.
var (
	ErrMalformed          = &Error{Kind: KindMalformed}
	ErrMissingExport      = &Error{Kind: KindMissingExport}
	ErrUnsupportedVersion = &Error{Kind: KindUnsupportedVersion}
	ErrForbiddenImport    = &Error{Kind: KindForbiddenImport}
	ErrResourceExhausted  = &Error{Kind: KindResourceExhausted}
	ErrIllegalOp          = &Error{Kind: KindIllegalOp}
	ErrOutOfBoundsMemory  = &Error{Kind: KindOutOfBoundsMemory}
	ErrInvalidOutput      = &Error{Kind: KindInvalidOutput}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrTooLarge           = &Error{Kind: KindTooLarge}
	ErrLogicRejected      = &Error{Kind: KindLogicRejected}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrStore              = &Error{Kind: KindStore}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Identity sets the contract or delegate identity
func (b *Builder) Identity(id string) *Builder {
	b.err.Identity = id
	return b
}

// Export sets the export or import name involved
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Convenience constructors for common error patterns

// Malformed creates a load error for structurally invalid code
func Malformed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformed,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExport creates a load error for an absent ABI export
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Export: name,
		Detail: fmt.Sprintf("required export %q not found", name),
	}
}

// UnsupportedVersion creates a load error for an ABI version the host does not handle
func UnsupportedVersion(version string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnsupportedVersion,
		Detail: fmt.Sprintf("abi version %q not supported", version),
		Cause:  cause,
	}
}

// ForbiddenImport creates a load error for an import the sandbox does not provide
func ForbiddenImport(module, name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindForbiddenImport,
		Export: module + "." + name,
		Detail: "import not provided by the sandbox",
	}
}

// ResourceExhausted creates an instantiation error caused by host-side pressure
func ResourceExhausted(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindResourceExhausted,
		Detail: detail,
		Cause:  cause,
	}
}

// Trap creates a guest trap error for the named export
func Trap(kind Kind, export string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   kind,
		Export: export,
		Detail: "guest trapped",
		Cause:  cause,
	}
}

// InvalidOutput creates a trap error for a malformed guest result
func InvalidOutput(export, detail string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindInvalidOutput,
		Export: export,
		Detail: detail,
	}
}

// Timeout creates a timeout error for the named export
func Timeout(export, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindTimeout,
		Export: export,
		Detail: detail,
		Cause:  cause,
	}
}

// TooLarge creates a rejection for a buffer above its ceiling
func TooLarge(phase Phase, what string, size, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTooLarge,
		Detail: fmt.Sprintf("%s of %d bytes exceeds limit of %d bytes", what, size, limit),
	}
}

// LogicRejected creates a rejection reported by the module itself
func LogicRejected(export, reason string) *Error {
	detail := "rejected by module"
	if reason != "" {
		detail = "rejected by module: " + reason
	}
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindLogicRejected,
		Export: export,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Annotate attaches identity and export context to err without losing its
// kind. Fields already set on a structured error are kept. Errors that are
// not structured are wrapped as invoke-phase illegal operations, since every
// lower layer is expected to return a typed error.
func Annotate(err error, identity, export string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		out := *e
		if out.Identity == "" {
			out.Identity = identity
		}
		if out.Export == "" {
			out.Export = export
		}
		return &out
	}
	return &Error{
		Phase:    PhaseInvoke,
		Kind:     KindIllegalOp,
		Identity: identity,
		Export:   export,
		Detail:   "unclassified failure",
		Cause:    err,
	}
}

// KindOf returns the kind of a structured error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FamilyOf returns the family of a structured error, or FamilyOther.
func FamilyOf(err error) Family {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Family()
	}
	return FamilyOther
}

// IsLoad reports whether the code itself is defective.
func IsLoad(err error) bool { return FamilyOf(err) == FamilyLoad }

// IsTrap reports whether the guest misbehaved mid-call.
func IsTrap(err error) bool { return FamilyOf(err) == FamilyTrap }

// IsTimeout reports whether a fuel or wall-clock ceiling was hit.
func IsTimeout(err error) bool { return FamilyOf(err) == FamilyTimeout }

// IsRejected reports whether the module refused the requested mutation.
func IsRejected(err error) bool { return FamilyOf(err) == FamilyRejected }

// IsRetryable reports whether the failure came from host-side resource
// pressure and may succeed after backoff.
func IsRetryable(err error) bool { return FamilyOf(err) == FamilyInstantiation }
