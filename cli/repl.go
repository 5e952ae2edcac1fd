// Package cli is gemcode's line-mode front end.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/martinemde/gemcode/agentloop"
)

const banner = `╔══════════════════════════════════════╗
║     Gem Code CLI Agent v0.1.0        ║
║     Ctrl+C or type exit to quit      ║
╚══════════════════════════════════════╝`

// Session is the part of *agentloop.Session the REPL drives.
type Session interface {
	Submit(ctx context.Context, input string) error
	Reset() error
	Subscribe(handler func(agentloop.SessionEvent)) (unsubscribe func())
}

// REPL reads one line per turn and prints the streamed reply.
type REPL struct {
	session Session
	in      io.Reader
	out     io.Writer
	styles  styles

	// turnContext scopes one turn. It defaults to cancelling on SIGINT so
	// Ctrl+C aborts the turn without exiting.
	turnContext func(context.Context) (context.Context, context.CancelFunc)
}

// NewREPL creates a REPL reading from in and writing to out.
func NewREPL(session Session, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		session: session,
		in:      in,
		out:     out,
		styles:  newStyles(out),
		turnContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run prints the banner, submits initial if non-empty, then reads lines
// until EOF or exit. It returns an error only for failures the session
// cannot recover from.
func (r *REPL) Run(ctx context.Context, initial string) error {
	unsubscribe := r.session.Subscribe(r.render)
	defer unsubscribe()

	fmt.Fprintln(r.out, r.styles.banner.Render(banner))

	if initial = strings.TrimSpace(initial); initial != "" {
		fmt.Fprintln(r.out, r.styles.dim.Render("User input from command line: "+initial))
		if err := r.turn(ctx, initial); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, r.styles.prompt.Render("➜ "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(r.out, r.styles.dim.Render("Exiting..."))
			return nil
		case "/clear":
			if err := r.session.Reset(); err != nil {
				fmt.Fprintln(r.out, r.styles.err.Render("Error: "+err.Error()))
			} else {
				fmt.Fprintln(r.out, r.styles.dim.Render("History cleared."))
			}
			continue
		}

		if err := r.turn(ctx, line); err != nil {
			return err
		}
	}
}

func (r *REPL) turn(ctx context.Context, input string) error {
	turnCtx, stop := r.turnContext(ctx)
	err := r.session.Submit(turnCtx, input)
	stop()
	fmt.Fprintln(r.out)

	var desync *agentloop.ProtocolDesyncError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &desync):
		fmt.Fprintln(r.out, r.styles.err.Render("Fatal: "+err.Error()))
		return err
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, r.styles.dim.Render("Cancelled."))
	default:
		fmt.Fprintln(r.out, r.styles.err.Render("Error: "+err.Error()))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// render prints session events as they arrive.
func (r *REPL) render(ev agentloop.SessionEvent) {
	switch ev.Kind {
	case agentloop.EventTextDelta:
		fmt.Fprint(r.out, r.styles.assistant.Render(ev.Text("delta")))
	case agentloop.EventToolStarted:
		line := "⚙ " + ev.Text("name")
		if d := ev.Text("description"); d != "" {
			line += ": " + d
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.tool.Render(line))
	case agentloop.EventToolFinished:
		if isErr, _ := ev.Data["is_error"].(bool); isErr {
			first, _, _ := strings.Cut(ev.Text("output"), "\n")
			fmt.Fprintln(r.out, r.styles.dim.Render("  "+first))
		}
	case agentloop.EventWarning:
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styles.warning.Render("Warning: "+ev.Text("message")))
	}
}
