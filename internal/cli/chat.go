package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/engine"
	"github.com/roach88/beastmode/internal/fallback"
	"github.com/roach88/beastmode/internal/metrics"
	"github.com/roach88/beastmode/internal/trigger"
)

// ChatOptions holds flags for the chat command.
type ChatOptions struct {
	*RootOptions
	Actor string

	// Trigger and Completer override the configured backends (for testing).
	Trigger   trigger.Trigger
	Completer fallback.Completer

	// Registry overrides the metrics registry (for testing). When nil a
	// registry is created only if metrics_addr is set.
	Registry *prometheus.Registry
}

// NewChatCommand creates the chat command.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Talk to beastmode",
		Long: `Start a conversation with beastmode.

With a message, handles that one turn and exits. Without one, reads one
turn per line from stdin until EOF or interrupt. Dispatches go to the
configured GitHub repository, or are dry runs when none is configured.
Sessions live for the duration of the process.

Examples:
  beastmode chat
  beastmode chat create 3 tenants
  echo "help" | beastmode chat --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", defaultActor(), "identity recorded on dispatches")

	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func runChat(opts *ChatOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	reg := opts.Registry
	if reg == nil && a.cfg.MetricsAddr != "" {
		reg = metrics.NewRegistry()
	}
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	conv := a.conversation(opts.Trigger, opts.Completer, registerer)
	defer conv.Close()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr, reg); err != nil {
				slog.Error("metrics server failed", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
	}
	go sweepSessions(ctx, conv.Sessions(), a.cfg.SessionTTL/2)

	c := &chat{conv: conv, actor: opts.Actor, out: formatter}

	if len(args) > 0 {
		return c.turn(ctx, strings.Join(args, " "))
	}

	formatter.Logf("loaded %s", a.describeLoad())
	if opts.Format != "json" {
		fmt.Fprintln(formatter.Diag(), "beastmode ready. Type 'cancel' to abandon a flow, Ctrl-D to quit.")
	}
	return c.repl(ctx, cmd.InOrStdin())
}

// chat carries one conversation across REPL turns.
type chat struct {
	conv    *engine.Conversation
	actor   string
	session string
	out     *OutputFormatter
}

// repl handles one turn per input line until EOF or ctx ends.
func (c *chat) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("reading input", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.turn(ctx, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (c *chat) turn(ctx context.Context, input string) error {
	reply, err := c.conv.Handle(ctx, c.session, c.actor, input)
	if err != nil {
		return WrapExitError(ExitCommandError, "turn failed", err)
	}
	c.session = reply.SessionID
	return c.out.Reply(input, reply)
}

// sweepSessions drops expired sessions every interval until ctx ends.
func sweepSessions(ctx context.Context, m *dialogue.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := m.Sweep(); len(expired) > 0 {
				slog.Debug("sessions expired", "count", len(expired))
			}
		}
	}
}
