package tui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/shsh-support/internal/domain"
	"github.com/ashureev/shsh-support/internal/support"
)

func newTestModel(prompt support.Prompt) (Model, chan support.Submission) {
	actions := make(chan support.Submission, 4)
	return NewModel(prompt, actions, make(chan struct{})), actions
}

func typeRunes(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	return m
}

func press(m Model, k tea.KeyType) (Model, tea.Cmd) {
	updated, cmd := m.Update(tea.KeyMsg{Type: k})
	return updated.(Model), cmd
}

func TestModelPrefill(t *testing.T) {
	m, _ := newTestModel(support.Prompt{Message: support.MessageEnterEmailAndName, Email: "ann@example.com", Name: "Ann", SelectEmail: true})
	if m.Email() != "ann@example.com" || m.Name() != "Ann" {
		t.Fatalf("prefill = %q/%q", m.Email(), m.Name())
	}
	view := m.View()
	if !strings.Contains(view, support.MessageEnterEmailAndName) {
		t.Errorf("view is missing the prompt message:\n%s", view)
	}
}

func TestModelFirstKeyReplacesSelectedEmail(t *testing.T) {
	m, _ := newTestModel(support.Prompt{Email: "ann@example.com", SelectEmail: true})
	m = typeRunes(t, m, "bo")
	if got := m.Email(); got != "bo" {
		t.Errorf("email = %q, want %q", got, "bo")
	}
}

func TestModelUnselectedEmailAppends(t *testing.T) {
	m, _ := newTestModel(support.Prompt{Email: "ann"})
	m = typeRunes(t, m, "@x.io")
	if got := m.Email(); got != "ann@x.io" {
		t.Errorf("email = %q", got)
	}
}

func TestModelEnterMovesThenSubmits(t *testing.T) {
	m, actions := newTestModel(support.Prompt{Email: "ann@example.com", SelectEmail: true})

	m, cmd := press(m, tea.KeyEnter)
	if cmd != nil {
		t.Fatal("enter on the email field should not submit")
	}
	m = typeRunes(t, m, "Ann")

	_, cmd = press(m, tea.KeyEnter)
	if cmd == nil {
		t.Fatal("enter on the name field should submit")
	}
	cmd()

	select {
	case sub := <-actions:
		if sub.Email != "ann@example.com" || sub.Name != "Ann" || sub.Cancel {
			t.Errorf("submission = %+v", sub)
		}
	default:
		t.Fatal("no submission delivered")
	}
}

func TestModelCtrlSSubmitsFromEmail(t *testing.T) {
	m, actions := newTestModel(support.Prompt{Email: "a@b.co"})
	_, cmd := press(m, tea.KeyCtrlS)
	if cmd == nil {
		t.Fatal("ctrl+s should submit")
	}
	cmd()
	if sub := <-actions; sub.Email != "a@b.co" {
		t.Errorf("submission = %+v", sub)
	}
}

func TestModelFieldErrorShownAndCleared(t *testing.T) {
	m, _ := newTestModel(support.Prompt{Email: "bad"})
	m, _ = press(m, tea.KeyTab)

	updated, _ := m.Update(fieldErrorMsg{field: support.FieldEmail, message: support.MessageInvalidEmail})
	m = updated.(Model)
	if !strings.Contains(m.View(), support.MessageInvalidEmail) {
		t.Fatal("field error not rendered")
	}
	if m.focus != focusEmail {
		t.Error("field error should focus the email input")
	}

	m, _ = press(m, tea.KeyCtrlS)
	if strings.Contains(m.View(), support.MessageInvalidEmail) {
		t.Error("field error should clear on resubmit")
	}
}

func TestModelCancelQuits(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		m, _ := newTestModel(support.Prompt{})
		_, cmd := press(m, k)
		if cmd == nil {
			t.Fatalf("%v: expected quit command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%v: expected tea.QuitMsg", k)
		}
	}
}

func TestModelSubmitGivesUpAfterStop(t *testing.T) {
	stop := make(chan struct{})
	m := NewModel(support.Prompt{}, make(chan support.Submission), stop)
	_, cmd := press(m, tea.KeyCtrlS)
	close(stop)

	done := make(chan struct{})
	go func() {
		cmd()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit blocked after stop")
	}
}

func TestSurfaceResolvesThroughResolver(t *testing.T) {
	prefs := &memPrefs{}
	in := strings.NewReader("")
	var out bytes.Buffer
	surface := Surface{In: in, Out: &out, Options: []tea.ProgramOption{tea.WithoutRenderer()}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res := support.NewResolver(prefs, surface, nil).Resolve(ctx, domain.SuggestionSource{
		Account: &domain.Account{Email: "ann@example.com"},
	})
	if res.State() != support.StatePending {
		t.Fatalf("state = %v", res.State())
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	// Without input the dialog never confirms.
	if _, err := res.Wait(waitCtx); err == nil {
		t.Fatal("expected cancellation")
	}
	if res.State() != support.StateCancelled {
		t.Errorf("state = %v, want cancelled", res.State())
	}
	if prefs.writes != 0 {
		t.Error("nothing should be persisted on cancel")
	}
}

type memPrefs struct {
	mu     sync.Mutex
	id     domain.SupportIdentity
	writes int
}

func (p *memPrefs) SupportIdentity(context.Context) (domain.SupportIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, nil
}

func (p *memPrefs) SetSupportIdentity(_ context.Context, id domain.SupportIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
	p.writes++
	return nil
}
