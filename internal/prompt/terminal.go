// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/imvault/imvault/internal/secure"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// Terminal renders dialogs on a terminal with bubbletea. Only one dialog is
// shown at a time.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	mu sync.Mutex
}

// NewTerminal returns a prompter on stdin/stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := tea.NewProgram(m, tea.WithInput(t.In), tea.WithOutput(t.Out), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, vaulterr.Wrap(ctx.Err(), vaulterr.CodeOperationTimeout, "waiting for user input")
		}
		return nil, vaulterr.Wrap(err, vaulterr.CodePromptFailure, "running prompt")
	}
	return final, nil
}

func (t *Terminal) Confirm(ctx context.Context, title, question string) (bool, error) {
	final, err := t.run(ctx, newConfirmModel(title, question))
	if err != nil {
		return false, err
	}
	m, ok := final.(confirmModel)
	if !ok {
		return false, vaulterr.New(vaulterr.CodePromptFailure, "unexpected model type after prompt")
	}
	return m.answer, nil
}

func (t *Terminal) RequestPassword(ctx context.Context, title, message string) (*secure.Secret, error) {
	final, err := t.run(ctx, newPasswordModel(title, message))
	if err != nil {
		return nil, err
	}
	m, ok := final.(passwordModel)
	if !ok {
		return nil, vaulterr.New(vaulterr.CodePromptFailure, "unexpected model type after prompt")
	}
	if !m.submitted {
		return nil, cancelled()
	}
	return secure.FromString(m.input.Value()), nil
}

// --- confirm dialog ---

type confirmModel struct {
	title    string
	question string
	answer   bool
	done     bool
}

func newConfirmModel(title, question string) confirmModel {
	return confirmModel{title: title, question: question}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y", "enter":
		m.answer = true
		m.done = true
		return m, tea.Quit
	case "n", "esc", "ctrl+c":
		m.answer = false
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(promptStyle.Render(m.question))
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("[Y/n]"))
	return boxStyle.Render(b.String()) + "\n"
}

// --- password dialog ---

type passwordModel struct {
	title     string
	message   string
	input     textinput.Model
	submitted bool
	done      bool
	errMsg    string
}

func newPasswordModel(title, message string) passwordModel {
	in := textinput.New()
	in.Placeholder = "password"
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.Focus()
	return passwordModel{title: title, message: message, input: in}
}

func (m passwordModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if m.input.Value() == "" {
				m.errMsg = "password must not be empty"
				return m, nil
			}
			m.submitted = true
			m.done = true
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(promptStyle.Render(m.message))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.errMsg != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.errMsg))
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s to save, %s to cancel", "enter", "esc")))
	return boxStyle.Render(b.String()) + "\n"
}
