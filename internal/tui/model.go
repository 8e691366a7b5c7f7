// Package tui renders the support identity dialog in a terminal.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/shsh-support/internal/support"
)

const (
	focusEmail = iota
	focusName
)

const inputWidth = 40

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedText = lipgloss.NewStyle().Reverse(true)
)

// fieldErrorMsg attaches a validation message to an input.
type fieldErrorMsg struct {
	field   support.Field
	message string
}

// closeMsg ends the program once the resolver is done with the dialog.
type closeMsg struct{}

// Model is the bubbletea model of the identity dialog.
type Model struct {
	prompt  support.Prompt
	keys    KeyMap
	email   textinput.Model
	name    textinput.Model
	focus   int
	errText string

	// emailSelected mirrors a selected suggestion: the first edit replaces it.
	emailSelected bool

	actions chan<- support.Submission
	stop    <-chan struct{}
}

// NewModel creates the dialog model. Confirmed values are delivered on
// actions; sends give up once stop is closed.
func NewModel(prompt support.Prompt, actions chan<- support.Submission, stop <-chan struct{}) Model {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 320
	email.Width = inputWidth
	email.SetValue(prompt.Email)
	email.Focus()

	name := textinput.New()
	name.Placeholder = "Name (optional)"
	name.CharLimit = 200
	name.Width = inputWidth
	name.SetValue(prompt.Name)

	return Model{
		prompt:        prompt,
		keys:          DefaultKeyMap,
		email:         email,
		name:          name,
		emailSelected: prompt.SelectEmail && prompt.Email != "",
		actions:       actions,
		stop:          stop,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Email returns the current email text.
func (m Model) Email() string { return m.email.Value() }

// Name returns the current name text.
func (m Model) Name() string { return m.name.Value() }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fieldErrorMsg:
		m.errText = msg.message
		if msg.field == support.FieldEmail {
			m.setFocus(focusEmail)
		}
		return m, nil

	case closeMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Confirm):
			return m, m.submit()
		case key.Matches(msg, m.keys.Enter):
			if m.focus == focusEmail {
				m.setFocus(focusName)
				return m, nil
			}
			return m, m.submit()
		case key.Matches(msg, m.keys.Next):
			m.setFocus((m.focus + 1) % 2)
			return m, nil
		case key.Matches(msg, m.keys.Prev):
			m.setFocus((m.focus + 1) % 2)
			return m, nil
		}
		if m.focus == focusEmail {
			m.applySelection(msg)
		}
	}

	var cmd tea.Cmd
	if m.focus == focusEmail {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.name, cmd = m.name.Update(msg)
	}
	return m, cmd
}

// applySelection emulates typing over a selected suggestion.
func (m *Model) applySelection(msg tea.KeyMsg) {
	if !m.emailSelected {
		return
	}
	m.emailSelected = false
	switch msg.Type {
	case tea.KeyRunes, tea.KeySpace, tea.KeyBackspace, tea.KeyDelete:
		m.email.SetValue("")
	}
}

func (m *Model) setFocus(focus int) {
	m.emailSelected = false
	m.focus = focus
	if focus == focusEmail {
		m.name.Blur()
		m.email.Focus()
		return
	}
	m.email.Blur()
	m.name.Focus()
}

func (m *Model) submit() tea.Cmd {
	m.errText = ""
	m.emailSelected = false
	sub := support.Submission{Email: m.email.Value(), Name: m.name.Value()}
	actions, stop := m.actions, m.stop
	return func() tea.Msg {
		select {
		case actions <- sub:
		case <-stop:
		}
		return nil
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Support identity"))
	b.WriteString("\n")
	if m.prompt.Message != "" {
		b.WriteString(m.prompt.Message)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Email"))
	b.WriteString("\n")
	if m.emailSelected {
		b.WriteString(m.email.Prompt + selectedText.Render(m.email.Value()))
	} else {
		b.WriteString(m.email.View())
	}
	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render("Name"))
	b.WriteString("\n")
	b.WriteString(m.name.View())
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render(strings.Join([]string{
		helpEntry(m.keys.Enter),
		helpEntry(m.keys.Next),
		helpEntry(m.keys.Confirm),
		helpEntry(m.keys.Cancel),
	}, "  ")))

	return boxStyle.Render(b.String()) + "\n"
}

func helpEntry(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}
