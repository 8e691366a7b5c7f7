package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/shsh-support/internal/support"
)

// Surface opens identity dialogs as bubbletea programs. Zero values use
// the process's stdin and stdout.
type Surface struct {
	In      io.Reader
	Out     io.Writer
	Options []tea.ProgramOption
}

// Open implements support.Surface.
func (s Surface) Open(ctx context.Context, prompt support.Prompt) (support.Dialog, error) {
	d := &programDialog{
		submissions: make(chan support.Submission),
		dismissed:   make(chan struct{}),
		done:        make(chan struct{}),
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if s.In != nil {
		opts = append(opts, tea.WithInput(s.In))
	}
	if s.Out != nil {
		opts = append(opts, tea.WithOutput(s.Out))
	}
	opts = append(opts, s.Options...)

	d.program = tea.NewProgram(NewModel(prompt, d.submissions, d.done), opts...)
	go d.run()
	return d, nil
}

type programDialog struct {
	program     *tea.Program
	submissions chan support.Submission

	dismissOnce sync.Once
	dismissed   chan struct{}
	done        chan struct{}
}

func (d *programDialog) run() {
	defer func() {
		close(d.done)
		d.dismissOnce.Do(func() { close(d.dismissed) })
	}()
	if _, err := d.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		slog.Error("Identity dialog failed", "error", err)
	}
}

func (d *programDialog) Submissions() <-chan support.Submission { return d.submissions }

func (d *programDialog) Dismissed() <-chan struct{} { return d.dismissed }

func (d *programDialog) FieldError(field support.Field, message string) {
	d.send(fieldErrorMsg{field: field, message: message})
}

// Close ends the program and waits for the terminal to be restored.
func (d *programDialog) Close() {
	d.send(closeMsg{})
	<-d.done
}

// send delivers msg unless the program has already exited.
func (d *programDialog) send(msg tea.Msg) {
	select {
	case <-d.done:
		return
	default:
	}
	d.program.Send(msg)
}
