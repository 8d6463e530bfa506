package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrPromptCancelled is returned when the user dismisses a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

// PromptSpec describes a single-field prompt.
type PromptSpec struct {
	Title       string
	Label       string
	Placeholder string
	Hint        string
	Secret      bool // mask the input, for passwords
	CharLimit   int
	Validate    func(string) error
}

// Prompter asks the user for one value.
type Prompter interface {
	Prompt(ctx context.Context, spec PromptSpec) (string, error)
}

// PromptModel is a bubbletea model collecting one value with a [textinput.Model].
type PromptModel struct {
	spec      PromptSpec
	input     textinput.Model
	keys      promptKeyMap
	help      help.Model
	value     string
	invalid   error
	done      bool
	cancelled bool
}

// NewPromptModel creates a focused prompt for spec.
func NewPromptModel(spec PromptSpec) *PromptModel {
	input := textinput.New()
	input.Placeholder = spec.Placeholder
	input.Prompt = "› "
	if spec.CharLimit > 0 {
		input.CharLimit = spec.CharLimit
	}
	if spec.Secret {
		input.EchoMode = textinput.EchoPassword
		input.EchoCharacter = '•'
	}
	input.Focus()

	return &PromptModel{
		spec:  spec,
		input: input,
		keys:  newPromptKeyMap(),
		help:  help.New(),
	}
}

func (m *PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.cancel):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.submit):
			value := strings.TrimSpace(m.input.Value())
			if err := m.validate(value); err != nil {
				m.invalid = err
				return m, nil
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

func (m *PromptModel) validate(value string) error {
	if value == "" {
		return errors.New("a value is required")
	}
	if m.spec.Validate != nil {
		return m.spec.Validate(value)
	}
	return nil
}

func (m *PromptModel) View() string {
	if m.done || m.cancelled {
		return ""
	}

	var b strings.Builder
	if m.spec.Title != "" {
		b.WriteString(styles.Title(m.spec.Title) + "\n")
	}
	if m.spec.Hint != "" {
		b.WriteString(styles.Help(m.spec.Hint) + "\n")
	}
	if m.spec.Label != "" {
		b.WriteString(m.spec.Label + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	if m.invalid != nil {
		b.WriteString(styles.Err(m.invalid.Error()) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

// Value returns the submitted value, or [ErrPromptCancelled].
func (m *PromptModel) Value() (string, error) {
	if !m.done {
		return "", ErrPromptCancelled
	}
	return m.value, nil
}

// TeaPrompter runs a [PromptModel] as a bubbletea program.
type TeaPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTeaPrompter creates a prompter on the given terminal streams. Nil streams use the
// process's stdin and stdout.
func NewTeaPrompter(in io.Reader, out io.Writer) *TeaPrompter {
	return &TeaPrompter{in: in, out: out}
}

func (p *TeaPrompter) Prompt(ctx context.Context, spec PromptSpec) (string, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.in != nil {
		opts = append(opts, tea.WithInput(p.in))
	}
	if p.out != nil {
		opts = append(opts, tea.WithOutput(p.out))
	}

	final, err := tea.NewProgram(NewPromptModel(spec), opts...).Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return final.(*PromptModel).Value()
}

// LinePrompter reads answers line by line, for pipes and non-interactive terminals.
type LinePrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewLinePrompter creates a prompter reading from in and writing labels to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	if out == nil {
		out = io.Discard
	}
	return &LinePrompter{scanner: bufio.NewScanner(in), out: out}
}

func (p *LinePrompter) Prompt(ctx context.Context, spec PromptSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	label := spec.Label
	if label == "" {
		label = spec.Title
	}
	fmt.Fprintf(p.out, "%s: ", label)

	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("prompt failed: %w", err)
		}
		return "", ErrPromptCancelled
	}

	value := strings.TrimSpace(p.scanner.Text())
	if value == "" {
		return "", ErrPromptCancelled
	}
	if spec.Validate != nil {
		if err := spec.Validate(value); err != nil {
			return "", err
		}
	}
	return value, nil
}

// PasswordSpec is the step-up prompt shown before sensitive operations.
func PasswordSpec(op string) PromptSpec {
	return PromptSpec{
		Title:  "Confirm it's you",
		Label:  "Password",
		Hint:   fmt.Sprintf("%s needs recent confirmation of your password.", op),
		Secret: true,
	}
}

// CodeSpec prompts for a one-time code from an authenticator app or email.
func CodeSpec(title string) PromptSpec {
	return PromptSpec{
		Title:       title,
		Label:       "Code",
		Placeholder: "123456",
		CharLimit:   16,
	}
}
