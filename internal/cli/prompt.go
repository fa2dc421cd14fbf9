package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"skaha/pkg/secret"
)

// ErrPromptCancelled is returned when the user interrupts a prompt.
var ErrPromptCancelled = errors.New("cancelled")

// Prompter asks the user for input.
type Prompter interface {
	Line(prompt string) (string, error)
	// Password reads without echo.
	Password(prompt string) (secret.Secret, error)
	Confirm(prompt string) (bool, error)
}

// ReadlinePrompter prompts on a terminal.
type ReadlinePrompter struct {
	stdin  io.ReadCloser
	stdout io.Writer
}

// NewPrompter returns a prompter reading from in and writing to out.
func NewPrompter(in io.ReadCloser, out io.Writer) *ReadlinePrompter {
	return &ReadlinePrompter{stdin: in, stdout: out}
}

func (p *ReadlinePrompter) instance(prompt string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		Stdin:           p.stdin,
		Stdout:          p.stdout,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return rl, nil
}

// Line reads one line of input.
func (p *ReadlinePrompter) Line(prompt string) (string, error) {
	rl, err := p.instance(prompt)
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err == readline.ErrInterrupt || err == io.EOF {
		return "", ErrPromptCancelled
	} else if err != nil {
		return "", fmt.Errorf("readline error: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Password reads a secret without echoing it.
func (p *ReadlinePrompter) Password(prompt string) (secret.Secret, error) {
	rl, err := p.instance("")
	if err != nil {
		return secret.Secret{}, err
	}
	defer rl.Close()

	raw, err := rl.ReadPassword(prompt)
	if err == readline.ErrInterrupt || err == io.EOF {
		return secret.Secret{}, ErrPromptCancelled
	} else if err != nil {
		return secret.Secret{}, fmt.Errorf("readline error: %w", err)
	}
	return secret.New(strings.TrimSpace(string(raw))), nil
}

// Confirm asks a yes/no question; anything but y or yes is no.
func (p *ReadlinePrompter) Confirm(prompt string) (bool, error) {
	return confirm(p, prompt)
}

func confirm(p Prompter, prompt string) (bool, error) {
	answer, err := p.Line(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ScriptedPrompter answers prompts from a fixed list, for non-interactive
// use and tests.
type ScriptedPrompter struct {
	Answers []string
	Asked   []string
}

func (p *ScriptedPrompter) next(prompt string) (string, error) {
	p.Asked = append(p.Asked, prompt)
	if len(p.Answers) == 0 {
		return "", ErrPromptCancelled
	}
	answer := p.Answers[0]
	p.Answers = p.Answers[1:]
	return answer, nil
}

// Line returns the next answer.
func (p *ScriptedPrompter) Line(prompt string) (string, error) {
	return p.next(prompt)
}

// Password returns the next answer as a secret.
func (p *ScriptedPrompter) Password(prompt string) (secret.Secret, error) {
	answer, err := p.next(prompt)
	if err != nil {
		return secret.Secret{}, err
	}
	return secret.New(answer), nil
}

// Confirm treats the next answer as a yes/no reply.
func (p *ScriptedPrompter) Confirm(prompt string) (bool, error) {
	return confirm(p, prompt)
}
