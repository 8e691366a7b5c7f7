package support

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/shsh-support/internal/domain"
)

const waitTimeout = 2 * time.Second

type fakePrefs struct {
	mu       sync.Mutex
	identity domain.SupportIdentity
	writes   int
	readErr  error
	writeErr error
	events   *[]string
}

func (f *fakePrefs) SupportIdentity(_ context.Context) (domain.SupportIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, f.readErr
}

func (f *fakePrefs) SetSupportIdentity(_ context.Context, id domain.SupportIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.identity = id
	f.writes++
	if f.events != nil {
		*f.events = append(*f.events, "persist")
	}
	return nil
}

func (f *fakePrefs) snapshot() (domain.SupportIdentity, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, f.writes
}

type fakeDialog struct {
	prompt      Prompt
	submissions chan Submission
	dismissed   chan struct{}
	fieldErrors chan *ValidationError
	closeOnce   sync.Once
	closed      chan struct{}
}

func newFakeDialog(prompt Prompt) *fakeDialog {
	return &fakeDialog{
		prompt:      prompt,
		submissions: make(chan Submission),
		dismissed:   make(chan struct{}),
		fieldErrors: make(chan *ValidationError, 16),
		closed:      make(chan struct{}),
	}
}

func (d *fakeDialog) Submissions() <-chan Submission { return d.submissions }
func (d *fakeDialog) Dismissed() <-chan struct{}     { return d.dismissed }
func (d *fakeDialog) Close()                         { d.closeOnce.Do(func() { close(d.closed) }) }

func (d *fakeDialog) FieldError(field Field, message string) {
	d.fieldErrors <- &ValidationError{Field: field, Message: message}
}

func (d *fakeDialog) submit(t *testing.T, email, name string) {
	t.Helper()
	select {
	case d.submissions <- Submission{Email: email, Name: name}:
	case <-time.After(waitTimeout):
		t.Fatal("dialog did not accept submission")
	}
}

func (d *fakeDialog) expectFieldError(t *testing.T) *ValidationError {
	t.Helper()
	select {
	case verr := <-d.fieldErrors:
		return verr
	case <-d.closed:
		t.Fatal("dialog closed instead of reporting a field error")
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for field error")
	}
	return nil
}

func (d *fakeDialog) expectClosed(t *testing.T) {
	t.Helper()
	select {
	case <-d.closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for dialog to close")
	}
}

type fakeSurface struct {
	mu      sync.Mutex
	dialogs []*fakeDialog
	openErr error
	opened  chan *fakeDialog
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{opened: make(chan *fakeDialog, 4)}
}

func (s *fakeSurface) Open(_ context.Context, prompt Prompt) (Dialog, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	d := newFakeDialog(prompt)
	s.mu.Lock()
	s.dialogs = append(s.dialogs, d)
	s.mu.Unlock()
	s.opened <- d
	return d, nil
}

func (s *fakeSurface) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialogs)
}

func (s *fakeSurface) lastDialog(t *testing.T) *fakeDialog {
	t.Helper()
	select {
	case d := <-s.opened:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("no dialog opened")
	}
	return nil
}

func TestResolveStoredIdentitySkipsDialog(t *testing.T) {
	prefs := &fakePrefs{identity: domain.SupportIdentity{Email: "a@b.com", Name: "Ann"}}
	surface := newFakeSurface()
	resolver := NewResolver(prefs, surface, nil)

	var calls []domain.SupportIdentity
	res := resolver.ResolveFunc(context.Background(), domain.SuggestionSource{}, func(email, name string) {
		calls = append(calls, domain.SupportIdentity{Email: email, Name: name})
	})

	// The stored path calls back before ResolveFunc returns.
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SupportIdentity{Email: "a@b.com", Name: "Ann"}, calls[0])
	assert.Equal(t, StateResolved, res.State())
	assert.Equal(t, 0, surface.openCount())

	_, writes := prefs.snapshot()
	assert.Equal(t, 0, writes)
}

func TestResolveStoredIdentityIsNotRevalidated(t *testing.T) {
	prefs := &fakePrefs{identity: domain.SupportIdentity{Email: "legacy-value"}}
	resolver := NewResolver(prefs, newFakeSurface(), nil)

	id, err := resolver.Resolve(context.Background(), domain.SuggestionSource{}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy-value", id.Email)
}

func TestResolvePrefillsDialogFromSuggestions(t *testing.T) {
	prefs := &fakePrefs{}
	surface := newFakeSurface()
	resolver := NewResolver(prefs, surface, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := resolver.Resolve(ctx, domain.SuggestionSource{
		Account: &domain.Account{Email: "acct@wp.com", DisplayName: "Acct"},
		Site:    &domain.Site{Email: "s@site.com", Username: "siteuser"},
	})
	d := surface.lastDialog(t)

	assert.Equal(t, StatePending, res.State())
	assert.Equal(t, "acct@wp.com", d.prompt.Email)
	assert.Equal(t, "Acct", d.prompt.Name)
	assert.True(t, d.prompt.SelectEmail)
	assert.Equal(t, MessageEnterEmailAndName, d.prompt.Message)
}

func TestResolveInvalidThenValidEmail(t *testing.T) {
	prefs := &fakePrefs{}
	surface := newFakeSurface()
	resolver := NewResolver(prefs, surface, nil)

	calls := make(chan domain.SupportIdentity, 4)
	res := resolver.ResolveFunc(context.Background(), domain.SuggestionSource{
		Account: &domain.Account{Email: ""},
		Site:    &domain.Site{Email: "s@site.com"},
	}, func(email, name string) {
		calls <- domain.SupportIdentity{Email: email, Name: name}
	})

	d := surface.lastDialog(t)
	require.Equal(t, "s@site.com", d.prompt.Email)

	for i := 0; i < 3; i++ {
		d.submit(t, "bad-email", "Sam")
		verr := d.expectFieldError(t)
		assert.Equal(t, FieldEmail, verr.Field)
		assert.Equal(t, MessageInvalidEmail, verr.Message)
	}

	assert.Equal(t, StatePending, res.State())
	assert.Empty(t, calls)
	stored, writes := prefs.snapshot()
	assert.Equal(t, 0, writes)
	assert.True(t, stored.IsZero())

	d.submit(t, "s@site.com", "Sam")
	d.expectClosed(t)

	id, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SupportIdentity{Email: "s@site.com", Name: "Sam"}, id)

	stored, writes = prefs.snapshot()
	assert.Equal(t, 1, writes)
	assert.Equal(t, id, stored)

	select {
	case got := <-calls:
		assert.Equal(t, id, got)
	case <-time.After(waitTimeout):
		t.Fatal("callback not invoked")
	}
	assert.Empty(t, calls, "callback must run exactly once")
}

func TestResolvePersistsBeforeCallback(t *testing.T) {
	var events []string
	var mu sync.Mutex
	prefs := &fakePrefs{events: &events}
	surface := newFakeSurface()
	resolver := NewResolver(prefs, surface, nil)

	done := make(chan struct{})
	resolver.ResolveFunc(context.Background(), domain.SuggestionSource{}, func(_, _ string) {
		mu.Lock()
		events = append(events, "callback")
		mu.Unlock()
		close(done)
	})

	d := surface.lastDialog(t)
	d.submit(t, "a@b.com", "")

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("callback not invoked")
	}
	d.expectClosed(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"persist", "callback"}, events)
}

func TestResolveTrimsSubmittedValues(t *testing.T) {
	prefs := &fakePrefs{}
	surface := newFakeSurface()
	res := NewResolver(prefs, surface, nil).Resolve(context.Background(), domain.SuggestionSource{})

	d := surface.lastDialog(t)
	d.submit(t, "  a@b.com ", " Ann ")

	id, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SupportIdentity{Email: "a@b.com", Name: "Ann"}, id)
}

func TestResolveCancel(t *testing.T) {
	tests := []struct {
		name    string
		dismiss func(d *fakeDialog)
	}{
		{
			name: "cancel action",
			dismiss: func(d *fakeDialog) {
				d.submissions <- Submission{Cancel: true}
			},
		},
		{
			name: "dialog dismissed",
			dismiss: func(d *fakeDialog) {
				close(d.dismissed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := &fakePrefs{}
			surface := newFakeSurface()
			resolver := NewResolver(prefs, surface, nil)

			called := false
			res := resolver.ResolveFunc(context.Background(), domain.SuggestionSource{}, func(_, _ string) {
				called = true
			})
			d := surface.lastDialog(t)
			tt.dismiss(d)
			d.expectClosed(t)

			_, err := res.Wait(context.Background())
			require.ErrorIs(t, err, ErrCancelled)
			assert.Equal(t, StateCancelled, res.State())
			assert.False(t, called)

			_, writes := prefs.snapshot()
			assert.Equal(t, 0, writes)
		})
	}
}

func TestResolveContextCancelled(t *testing.T) {
	surface := newFakeSurface()
	resolver := NewResolver(&fakePrefs{}, surface, nil)

	ctx, cancel := context.WithCancel(context.Background())
	res := resolver.Resolve(ctx, domain.SuggestionSource{})
	d := surface.lastDialog(t)
	cancel()
	d.expectClosed(t)

	_, err := res.Wait(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveSurfaceOpenFailure(t *testing.T) {
	surface := newFakeSurface()
	surface.openErr = errors.New("no terminal")
	res := NewResolver(&fakePrefs{}, surface, nil).Resolve(context.Background(), domain.SuggestionSource{})

	assert.Equal(t, StateCancelled, res.State())
	_, err := res.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestResolveReadFailureFallsBackToDialog(t *testing.T) {
	prefs := &fakePrefs{readErr: errors.New("disk unavailable")}
	surface := newFakeSurface()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := NewResolver(prefs, surface, nil).Resolve(ctx, domain.SuggestionSource{})
	surface.lastDialog(t)
	assert.Equal(t, StatePending, res.State())
}

func TestResolveWriteFailureKeepsDialogOpen(t *testing.T) {
	prefs := &fakePrefs{writeErr: errors.New("readonly database")}
	surface := newFakeSurface()
	res := NewResolver(prefs, surface, nil).Resolve(context.Background(), domain.SuggestionSource{})

	d := surface.lastDialog(t)
	d.submit(t, "a@b.com", "Ann")
	verr := d.expectFieldError(t)
	assert.Equal(t, FieldEmail, verr.Field)
	assert.Equal(t, MessageSaveFailed, verr.Message)
	assert.Equal(t, StatePending, res.State())

	prefs.mu.Lock()
	prefs.writeErr = nil
	prefs.mu.Unlock()

	d.submit(t, "a@b.com", "Ann")
	id, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", id.Email)
}

func TestResolutionSettlesOnce(t *testing.T) {
	res := newResolution()
	calls := 0
	res.OnResolved(func(domain.SupportIdentity) { calls++ })

	assert.True(t, res.resolve(domain.SupportIdentity{Email: "a@b.com"}))
	assert.False(t, res.resolve(domain.SupportIdentity{Email: "c@d.com"}))
	assert.False(t, res.cancel(nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "a@b.com", res.Identity().Email)
	assert.Equal(t, StateResolved, res.State())
	assert.Equal(t, "resolved", res.State().String())
}

func TestResolutionWaitHonoursContext(t *testing.T) {
	res := newResolution()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := res.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, res.State())
}
