package support

import "context"

// Prompt describes the identity dialog to present.
type Prompt struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	// SelectEmail asks the surface to select the whole email suggestion so
	// the first keystroke replaces it.
	SelectEmail bool `json:"select_email"`
}

// Submission is a user action on the dialog.
type Submission struct {
	Email  string
	Name   string
	Cancel bool

	// verdict, when set, receives the field error for this submission only.
	verdict chan<- *ValidationError
}

func (s Submission) reject(verr *ValidationError) {
	if s.verdict == nil {
		return
	}
	select {
	case s.verdict <- verr:
	default:
	}
}

// Dialog is an open identity dialog.
type Dialog interface {
	// Submissions delivers confirm and cancel actions in the order the
	// user performed them.
	Submissions() <-chan Submission
	// Dismissed is closed when the dialog goes away without the resolver
	// closing it (window closed, connection dropped).
	Dismissed() <-chan struct{}
	// FieldError attaches a message to one input and keeps the dialog open.
	FieldError(field Field, message string)
	// Close dismisses the dialog. Safe to call more than once.
	Close()
}

// Surface opens identity dialogs.
type Surface interface {
	Open(ctx context.Context, prompt Prompt) (Dialog, error)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ctx context.Context, prompt Prompt) (Dialog, error)

// Open calls f.
func (f SurfaceFunc) Open(ctx context.Context, prompt Prompt) (Dialog, error) {
	return f(ctx, prompt)
}
