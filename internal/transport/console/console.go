// Package console is the interactive terminal transport: a REPL that feeds
// lines to the dispatcher and renders prompts as markdown.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/ilvi89/stupid-tg-bot/pkg/bot"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// ExitCommand leaves the REPL.
const ExitCommand = "/exit"

// Console renders prompts and reads input from a terminal.
type Console struct {
	in       *bufio.Reader
	out      io.Writer
	renderer *glamour.TermRenderer
	profile  termenv.Profile
	// stdinFD is >= 0 when input is a real terminal, enabling masked reads.
	stdinFD int
}

// Option configures the Console.
type Option func(*Console)

// WithIO overrides the input and output streams (used by tests).
func WithIO(in io.Reader, out io.Writer) Option {
	return func(c *Console) {
		c.in = bufio.NewReader(in)
		c.out = out
		c.stdinFD = -1
	}
}

// New creates a console over stdin/stdout.
func New(opts ...Option) (*Console, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build markdown renderer: %w", err)
	}

	c := &Console{
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		renderer: renderer,
		profile:  termenv.ColorProfile(),
		stdinFD:  int(os.Stdin.Fd()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stdinFD >= 0 && !term.IsTerminal(c.stdinFD) {
		c.stdinFD = -1
	}
	return c, nil
}

// DeliverPrompt implements ports.Transport.
func (c *Console) DeliverPrompt(ctx context.Context, p *dialog.Prompt) error {
	for _, msg := range p.Messages {
		rendered, err := c.renderer.Render(msg)
		if err != nil {
			// plain text is better than a lost message
			rendered = msg + "\n"
		}
		fmt.Fprint(c.out, rendered)
	}

	if p.Input == dialog.InputChoice && len(p.Choices) > 0 {
		label := "Options"
		if p.Recovery {
			label = "Recovery options"
		}
		line := termenv.String(fmt.Sprintf("%s: %s", label, strings.Join(p.Choices, " | "))).
			Foreground(c.profile.Color("6")).
			String()
		fmt.Fprintln(c.out, line)
	}
	return nil
}

// ReadInput reads one unit of input for the prompt. Sensitive prompts are
// read without echo when stdin is a terminal.
func (c *Console) ReadInput(p *dialog.Prompt) (string, error) {
	fmt.Fprint(c.out, "> ")
	if p != nil && p.Sensitive && c.stdinFD >= 0 {
		raw, err := term.ReadPassword(c.stdinFD)
		fmt.Fprintln(c.out)
		if err != nil {
			return "", fmt.Errorf("failed to read masked input: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Run drives the REPL until the context ends, stdin closes, or the user
// sends the exit command.
func (c *Console) Run(ctx context.Context, app *bot.App, identity dialog.Identity) error {
	fmt.Fprintf(c.out, "Connected as %s. %s to quit.\n", identity, ExitCommand)

	var last *dialog.Prompt
	if turn, err := app.Resume(ctx, identity); err == nil && turn.Prompt != nil {
		if err := c.DeliverPrompt(ctx, turn.Prompt); err != nil {
			return err
		}
		last = turn.Prompt
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		input, err := c.ReadInput(last)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if input == ExitCommand {
			return nil
		}
		if input == "" {
			continue
		}

		turn, err := app.Handle(ctx, identity, input)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		if turn.Prompt != nil {
			if err := c.DeliverPrompt(ctx, turn.Prompt); err != nil {
				return err
			}
		}
		if turn.Completed() {
			last = nil
		} else {
			last = turn.Prompt
		}
	}
}
