package support

import (
	"context"
	"sync"
)

// DialogRegistry hosts identity dialogs for request/response clients that
// cannot hold a connection open while the user types. Each key (usually
// device and tab) has at most one pending dialog.
type DialogRegistry struct {
	mu      sync.Mutex
	dialogs map[string]*PendingDialog
}

// NewDialogRegistry creates an empty registry.
func NewDialogRegistry() *DialogRegistry {
	return &DialogRegistry{dialogs: make(map[string]*PendingDialog)}
}

// SurfaceFor returns a Surface whose dialogs are registered under key.
// Opening a dialog replaces, and dismisses, any dialog pending for key.
func (g *DialogRegistry) SurfaceFor(key string) Surface {
	return SurfaceFunc(func(_ context.Context, prompt Prompt) (Dialog, error) {
		d := &PendingDialog{
			key:         key,
			prompt:      prompt,
			registry:    g,
			submissions: make(chan Submission),
			dismissed:   make(chan struct{}),
			closed:      make(chan struct{}),
		}

		g.mu.Lock()
		previous := g.dialogs[key]
		g.dialogs[key] = d
		g.mu.Unlock()

		if previous != nil {
			previous.dismiss()
		}
		return d, nil
	})
}

// Get returns the dialog pending for key, or nil.
func (g *DialogRegistry) Get(key string) *PendingDialog {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dialogs[key]
}

// Len returns the number of pending dialogs.
func (g *DialogRegistry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.dialogs)
}

func (g *DialogRegistry) remove(d *PendingDialog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dialogs[d.key] == d {
		delete(g.dialogs, d.key)
	}
}

// PendingDialog is a Dialog driven by discrete Submit calls.
type PendingDialog struct {
	key      string
	prompt   Prompt
	registry *DialogRegistry

	submitMu    sync.Mutex
	submissions chan Submission

	dismissOnce sync.Once
	dismissed   chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
}

// Prompt returns the prompt the dialog was opened with.
func (d *PendingDialog) Prompt() Prompt {
	return d.prompt
}

// Submit hands one user action to the resolver and waits for its verdict.
// It returns a *ValidationError when the dialog stays open, nil once the
// dialog has closed, or ctx's error. Each call only ever sees the verdict
// on its own submission.
func (d *PendingDialog) Submit(ctx context.Context, sub Submission) error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	verdict := make(chan *ValidationError, 1)
	sub.verdict = verdict

	select {
	case d.submissions <- sub:
	case <-d.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case verr := <-verdict:
		return verr
	case <-d.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed is closed once the resolver has finished with the dialog.
func (d *PendingDialog) Closed() <-chan struct{} {
	return d.closed
}

// Submissions implements Dialog.
func (d *PendingDialog) Submissions() <-chan Submission {
	return d.submissions
}

// Dismissed implements Dialog.
func (d *PendingDialog) Dismissed() <-chan struct{} {
	return d.dismissed
}

// FieldError implements Dialog. Errors reach the waiting Submit call
// through its submission, so there is nothing to show here.
func (d *PendingDialog) FieldError(Field, string) {}

// Close implements Dialog.
func (d *PendingDialog) Close() {
	d.closeOnce.Do(func() {
		d.registry.remove(d)
		close(d.closed)
	})
}

func (d *PendingDialog) dismiss() {
	d.dismissOnce.Do(func() {
		close(d.dismissed)
	})
}
