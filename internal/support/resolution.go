package support

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/shsh-support/internal/domain"
)

// ErrCancelled is returned by Wait when the user dismissed the dialog.
var ErrCancelled = errors.New("identity resolution cancelled")

// State is the lifecycle state of a Resolution.
type State int

const (
	StatePending State = iota
	StateResolved
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Resolution is a single identity resolution. It starts pending and moves
// exactly once to either resolved or cancelled.
type Resolution struct {
	mu        sync.Mutex
	state     State
	identity  domain.SupportIdentity
	cause     error
	callbacks []func(domain.SupportIdentity)
	done      chan struct{}
}

func newResolution() *Resolution {
	return &Resolution{done: make(chan struct{})}
}

// State returns the current state.
func (r *Resolution) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Identity returns the resolved identity, or the zero value if not resolved.
func (r *Resolution) Identity() domain.SupportIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// Done is closed once the resolution leaves the pending state.
func (r *Resolution) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the resolution settles or ctx ends.
func (r *Resolution) Wait(ctx context.Context) (domain.SupportIdentity, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return domain.SupportIdentity{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateResolved {
		return r.identity, nil
	}
	if r.cause != nil {
		return domain.SupportIdentity{}, fmt.Errorf("%w: %w", ErrCancelled, r.cause)
	}
	return domain.SupportIdentity{}, ErrCancelled
}

// OnResolved registers fn to run once with the resolved identity. If the
// resolution is already resolved fn runs immediately on the calling
// goroutine; if it was cancelled fn never runs.
func (r *Resolution) OnResolved(fn func(domain.SupportIdentity)) {
	r.mu.Lock()
	switch r.state {
	case StateResolved:
		id := r.identity
		r.mu.Unlock()
		fn(id)
		return
	case StateCancelled:
		r.mu.Unlock()
		return
	}
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

func (r *Resolution) resolve(id domain.SupportIdentity) bool {
	r.mu.Lock()
	if r.state != StatePending {
		r.mu.Unlock()
		return false
	}
	r.state = StateResolved
	r.identity = id
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(id)
	}
	return true
}

func (r *Resolution) cancel(cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return false
	}
	r.state = StateCancelled
	r.cause = cause
	r.callbacks = nil
	close(r.done)
	return true
}
