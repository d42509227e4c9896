// Package errors provides structured error types for the hostrt library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Every fallible operation in hostrt returns an *Error (possibly wrapped) so call
// sites can branch on the category instead of parsing messages.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRecord, errors.KindInvalidState).
//		Op("append").
//		Detail("buffer is %s", state).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidArgument(errors.PhaseSubmit, "copy-buffer", "size is zero")
//	err := errors.Exhausted(errors.PhaseRegistry, "add", "registry full")
//
// Kind sentinels match any error of that kind regardless of phase:
//
//	if errors.Is(err, errors.ErrInvalidState) { ... }
//
// Invalid-State and Invalid-Argument indicate caller programming errors and are
// never retried internally. Resource-Exhausted and Backend-Rejected are
// recoverable; see Retryable.
package errors
