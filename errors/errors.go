package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRegistry Phase = "registry" // handle table operations
	PhaseCreate   Phase = "create"   // resource creation and destruction
	PhaseRecord   Phase = "record"   // command buffer recording
	PhaseSubmit   Phase = "submit"   // submission validation and dispatch
	PhaseExecute  Phase = "execute"  // per-command handlers
	PhaseSync     Phase = "sync"     // fences, events, acquire/release
	PhaseMap      Phase = "map"      // host access to resource memory
	PhaseBackend  Phase = "backend"  // translated backend failures
	PhaseKernel   Phase = "kernel"   // kernel compilation and invocation
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInvalidState      Kind = "invalid_state"
	KindBackendRejected   Kind = "backend_rejected"
	KindNotImplemented    Kind = "not_implemented"
	KindNotReady          Kind = "not_ready"
	KindTimeout           Kind = "timeout"
)

// Kind sentinels. errors.Is(err, ErrInvalidState) matches any phase.
var (
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrBackendRejected   = &Error{Kind: KindBackendRejected}
	ErrNotImplemented    = &Error{Kind: KindNotImplemented}
	ErrNotReady          = &Error{Kind: KindNotReady}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// Error is the structured error type used throughout hostrt
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
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
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

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

// Op sets the failing operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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
	return &b.err
}

// Convenience constructors for the taxonomy

// InvalidArgument reports a bad handle, enum, size, offset or mismatched type.
func InvalidArgument(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Op:     op,
		Detail: detail,
	}
}

// BadHandle reports a handle that does not resolve.
func BadHandle(phase Phase, op string, handle uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Op:     op,
		Detail: fmt.Sprintf("handle %#016x does not resolve", handle),
		Value:  handle,
	}
}

// Exhausted reports a full registry, failed allocation or exceeded size.
func Exhausted(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResourceExhausted,
		Op:     op,
		Detail: detail,
	}
}

// WrongState reports an operation attempted in the wrong lifecycle state.
func WrongState(phase Phase, op string, state fmt.Stringer) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Op:     op,
		Detail: fmt.Sprintf("not allowed in state %s", state),
		Value:  state,
	}
}

// StateDetail reports an invalid state with a free-form explanation.
func StateDetail(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Op:     op,
		Detail: detail,
	}
}

// Rejected reports a backend refusal: compilation failure, unsupported feature, device mismatch.
func Rejected(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindBackendRejected,
		Op:    op,
		Cause: cause,
	}
}

// NotImplemented reports an unrecognized command tag or pipeline kind.
func NotImplemented(phase Phase, op string, what any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotImplemented,
		Op:     op,
		Detail: fmt.Sprintf("%v is not implemented", what),
		Value:  what,
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

// FromBackend translates a backend error into the taxonomy. Errors that are
// already classified pass through unchanged.
func FromBackend(phase Phase, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	kind := KindBackendRejected
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case stderrors.Is(err, context.Canceled):
		kind = KindNotReady
	}
	return &Error{
		Phase: phase,
		Kind:  kind,
		Op:    op,
		Cause: err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry after freeing resources or
// changing parameters. Programming errors are never retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindResourceExhausted, KindBackendRejected, KindNotReady, KindTimeout:
		return true
	}
	return false
}
