package fence

import (
	"context"

	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
)

// Tracker records outstanding backend and host use of one memory object and
// sequences access to it across backends. The zero value tracks a resource
// that is not shared.
type Tracker struct {
	uses   [backend.NumKinds][]backend.Token
	host   backend.Token
	shared bool
}

// Shared reports whether the resource is shared between backends.
func (t *Tracker) Shared() bool { return t.shared }

func (t *Tracker) SetShared(shared bool) { t.shared = shared }

// Acquire prepares q's backend to touch the resource. It returns the tokens
// the operation must wait for. For shared resources with outstanding use by
// the other backend, or a pending host write-back, it enqueues an acquire on
// q and returns its token alone.
func (t *Tracker) Acquire(q backend.Queue) ([]backend.Token, error) {
	t.prune()
	var deps []backend.Token
	if t.shared {
		deps = append(deps, t.uses[q.Kind().Other()]...)
	}
	if t.host != nil && !backend.Signaled(t.host) {
		deps = append(deps, t.host)
	}
	if len(deps) == 0 {
		return nil, nil
	}
	if !t.shared {
		return deps, nil
	}
	tok, err := q.Enqueue(nil, deps)
	if err != nil {
		return nil, errors.FromBackend(errors.PhaseSync, "acquire", err)
	}
	return []backend.Token{tok}, nil
}

// Release records op as use by q's backend. For shared resources a release
// is enqueued after op and recorded in its place; the returned token is the
// one later cross-backend work must wait for.
func (t *Tracker) Release(q backend.Queue, op backend.Token) (backend.Token, error) {
	tok := op
	if t.shared {
		rel, err := q.Enqueue(nil, []backend.Token{op})
		if err != nil {
			return nil, errors.FromBackend(errors.PhaseSync, "release", err)
		}
		tok = rel
	}
	k := q.Kind()
	t.uses[k] = append(t.uses[k], tok)
	return tok, nil
}

// Pending returns every token for outstanding backend and host use.
func (t *Tracker) Pending() []backend.Token {
	t.prune()
	var out []backend.Token
	for _, u := range t.uses {
		out = append(out, u...)
	}
	if t.host != nil && !backend.Signaled(t.host) {
		out = append(out, t.host)
	}
	return out
}

// Busy reports whether any recorded use is still outstanding.
func (t *Tracker) Busy() bool { return len(t.Pending()) > 0 }

// HostAcquire blocks until all outstanding use has completed, as required
// before the host reads the resource.
func (t *Tracker) HostAcquire(ctx context.Context) error {
	if err := backend.WaitAll(ctx, t.Pending()); err != nil {
		return errors.FromBackend(errors.PhaseMap, "host-acquire", err)
	}
	t.prune()
	return nil
}

// HostRelease records tok as the pending host write-back that the next
// backend use must wait for. A nil tok clears it.
func (t *Tracker) HostRelease(tok backend.Token) {
	t.host = tok
}

// HostToken returns the pending host write-back token, if any.
func (t *Tracker) HostToken() backend.Token { return t.host }

func (t *Tracker) prune() {
	for k, u := range t.uses {
		n := 0
		for _, tok := range u {
			if !backend.Signaled(tok) {
				u[n] = tok
				n++
			}
		}
		clear(u[n:])
		t.uses[k] = u[:n]
	}
	if t.host != nil && backend.Signaled(t.host) {
		t.host = nil
	}
}
