package fence

import (
	"context"

	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
)

// Status is an Event's observable state.
type Status uint8

const (
	StatusUnsignaled Status = iota
	StatusPending
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnsignaled:
		return "unsignaled"
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Event is a completion signal produced by backend work.
type Event struct {
	tok backend.Token
}

func NewEvent() *Event { return &Event{} }

// Signal associates the event with tok, releasing the previous token.
func (e *Event) Signal(tok backend.Token) {
	if e.tok != nil && e.tok != tok {
		e.tok.Release()
	}
	e.tok = tok
}

// Token returns the current token, or nil if the event was never signaled.
func (e *Event) Token() backend.Token { return e.tok }

func (e *Event) Status() Status {
	return statusOf(e.tok)
}

// Wait blocks until the event's operation completes. It fails with an
// invalid-state error if the event was never associated with an operation.
func (e *Event) Wait(ctx context.Context) error {
	if e.tok == nil {
		return errors.StateDetail(errors.PhaseSync, "wait-event", "event was never signaled")
	}
	return errors.FromBackend(errors.PhaseSync, "wait-event", backend.Wait(ctx, e.tok))
}

// Drop releases the held token.
func (e *Event) Drop() {
	if e.tok != nil {
		e.tok.Release()
		e.tok = nil
	}
}

func statusOf(tok backend.Token) Status {
	if tok == nil {
		return StatusUnsignaled
	}
	if !backend.Signaled(tok) {
		return StatusPending
	}
	if tok.Err() != nil {
		return StatusFailed
	}
	return StatusComplete
}
