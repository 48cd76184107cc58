// Package ui owns the terminal boundary: one-shot interactive prompts and
// styled output. Everything above it depends on the Prompter interface, so
// wizards and commands stay testable without a TTY.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// ErrAborted reports that the operator backed out of a prompt (esc or
// ctrl+c). Callers treat it as "stop here, keep saved state" rather than a
// failure.
var ErrAborted = errors.New("aborted")

// Prompter is the interactive surface wizards and commands talk to.
type Prompter interface {
	// Select shows options and returns the chosen index. cursor preselects
	// an option when it is a valid index.
	Select(title string, options []string, cursor int) (int, error)

	// Input reads a line of text. validate may be nil; when it returns an
	// error the prompt re-displays with the message instead of accepting.
	Input(title, placeholder, initial string, validate func(string) error) (string, error)

	// Confirm asks a yes/no question.
	Confirm(title string) (bool, error)
}

// TerminalPrompter renders prompts as one-shot bubbletea programs on the
// controlling terminal. Prompts write to stderr so stdout stays clean for
// command output.
type TerminalPrompter struct {
	in  *os.File
	out *os.File
}

// NewTerminalPrompter returns a prompter bound to stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

func (p *TerminalPrompter) ensureTerminal() error {
	info, err := p.in.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return fault.New(fault.InvalidInput, "interactive prompts need a terminal").
			WithHint("run from a terminal, or use the flag-driven release commands")
	}
	return nil
}

func (p *TerminalPrompter) run(m tea.Model) (tea.Model, error) {
	if err := p.ensureTerminal(); err != nil {
		return nil, err
	}
	final, err := tea.NewProgram(m, tea.WithInput(p.in), tea.WithOutput(p.out)).Run()
	if err != nil {
		return nil, fault.Wrap(fault.ProcessFailed, err, "prompt failed")
	}
	return final, nil
}

// Select implements Prompter.
func (p *TerminalPrompter) Select(title string, options []string, cursor int) (int, error) {
	if len(options) == 0 {
		return 0, fault.New(fault.InvalidInput, "nothing to select from")
	}
	final, err := p.run(newSelectModel(title, options, cursor))
	if err != nil {
		return 0, err
	}
	m := final.(selectModel)
	if m.aborted {
		return 0, ErrAborted
	}
	return m.choice, nil
}

// Input implements Prompter.
func (p *TerminalPrompter) Input(title, placeholder, initial string, validate func(string) error) (string, error) {
	final, err := p.run(newInputModel(title, placeholder, initial, validate))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if m.aborted {
		return "", ErrAborted
	}
	return m.value, nil
}

// Confirm implements Prompter.
func (p *TerminalPrompter) Confirm(title string) (bool, error) {
	final, err := p.run(confirmModel{title: title})
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.aborted {
		return false, ErrAborted
	}
	return m.answer, nil
}

// --- select ---

type optionItem string

func (o optionItem) Title() string       { return string(o) }
func (o optionItem) Description() string { return "" }
func (o optionItem) FilterValue() string { return string(o) }

type selectModel struct {
	title   string
	options []string
	list    list.Model
	choice  int
	done    bool
	aborted bool
}

func newSelectModel(title string, options []string, cursor int) selectModel {
	items := make([]list.Item, len(options))
	for i, opt := range options {
		items[i] = optionItem(opt)
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetHeight(1)
	delegate.SetSpacing(0)

	height := len(options) + 4
	if height > 16 {
		height = 16
	}
	l := list.New(items, delegate, 60, height)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	if cursor > 0 && cursor < len(options) {
		l.Select(cursor)
	}

	return selectModel{title: title, options: options, list: l}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			m.choice = m.list.Index()
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.aborted {
		return dimStyle.Render("aborted") + "\n"
	}
	if m.done {
		return fmt.Sprintf("%s %s\n",
			labelStyle.Render(m.title+":"), valueStyle.Render(m.options[m.choice]))
	}
	return m.list.View() + dimStyle.Render("↑/↓ move · enter select · esc back") + "\n"
}

// --- input ---

type inputModel struct {
	title    string
	input    textinput.Model
	validate func(string) error
	problem  string
	value    string
	done     bool
	aborted  bool
}

func newInputModel(title, placeholder, initial string, validate func(string) error) inputModel {
	ti := textinput.New()
	ti.Prompt = "▸ "
	ti.Placeholder = placeholder
	ti.CharLimit = 200
	ti.SetValue(initial)
	ti.Focus()
	return inputModel{title: title, input: ti, validate: validate}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if m.validate != nil {
				if err := m.validate(value); err != nil {
					m.problem = err.Error()
					return m, nil
				}
			}
			m.value = value
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.aborted {
		return dimStyle.Render("aborted") + "\n"
	}
	if m.done {
		shown := m.value
		if shown == "" {
			shown = "(empty)"
		}
		return fmt.Sprintf("%s %s\n",
			labelStyle.Render(m.title+":"), valueStyle.Render(shown))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n")
	b.WriteString(m.input.View() + "\n")
	if m.problem != "" {
		b.WriteString(failStyle.Render("✗ "+m.problem) + "\n")
	}
	b.WriteString(dimStyle.Render("enter accept · esc back") + "\n")
	return b.String()
}

// --- confirm ---

type confirmModel struct {
	title   string
	answer  bool
	done    bool
	aborted bool
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.answer = true
		m.done = true
		return m, tea.Quit
	case "n", "N":
		m.done = true
		return m, tea.Quit
	case "ctrl+c", "esc":
		m.aborted = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.aborted {
		return dimStyle.Render("aborted") + "\n"
	}
	if m.done {
		answer := "no"
		if m.answer {
			answer = "yes"
		}
		return fmt.Sprintf("%s %s\n",
			labelStyle.Render(m.title+":"), valueStyle.Render(answer))
	}
	return fmt.Sprintf("%s %s\n",
		titleStyle.Render(m.title), dimStyle.Render("(y/n)"))
}
