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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/lainbot/internal/config"
	"github.com/harun/lainbot/pkg/agent"
	"github.com/harun/lainbot/pkg/provider"
	"github.com/harun/lainbot/pkg/session"
)

const chatHelp = "/help: show help. /quit: exit. /clear: clear history. /tools: show MCP tools. /stats: show stats"

var (
	chatWatch       bool
	chatVerbose     bool
	chatSession     string
	chatMetricsAddr string
	chatWait        time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session in the terminal. Replies are streamed as
they arrive and the model may call tools from the configured MCP providers.

Commands: /help /quit /clear /tools /stats`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatWatch, "watch", false, "reload the provider file when it changes")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "also write logs to stderr")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session name (default from config)")
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	chatCmd.Flags().DurationVar(&chatWait, "wait", 15*time.Second, "how long to wait for providers before the first prompt")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatSession != "" {
		cfg.Session.Name = chatSession
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		console:     chatVerbose,
		metricsAddr: chatMetricsAddr,
		withAgent:   true,
	})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if chatWatch || cfg.Providers.Watch {
		go func() {
			err := config.WatchProviders(ctx, cfg.Providers.File, config.DefaultWatchDebounce,
				func(ctx context.Context, configs []provider.Config) {
					if err := a.sup.Reconcile(ctx, configs); err != nil {
						a.logger.Error().Err(err).Msg("Failed to apply provider changes")
					}
				})
			if err != nil {
				a.logger.Error().Err(err).Str("path", cfg.Providers.File).Msg("Provider watcher stopped")
			}
		}()
	}

	out := cmd.OutOrStdout()
	if n := len(a.sup.Providers()); n > 0 {
		fmt.Fprintf(out, "Connecting to %d tool provider(s)...\n", n)
		a.waitForProviders(ctx, chatWait)
	}

	r := &repl{
		agent: a.agent,
		tools: a.sup,
		in:    cmd.InOrStdin(),
		out:   out,
	}
	return r.run(ctx)
}

// chatBackend is the part of the agent the REPL drives.
type chatBackend interface {
	Send(ctx context.Context, text string) (<-chan agent.Event, error)
	ClearHistory(ctx context.Context) error
	Stats() session.Stats
}

type repl struct {
	agent chatBackend
	tools toolDirectory
	in    io.Reader
	out   io.Writer
}

// run reads lines until /quit, end of input or cancellation.
func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(r.out, "lainbot %s. Type a message and press Enter. %s\n", version, chatHelp)

	for {
		fmt.Fprint(r.out, "\n> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}
			continue
		}

		if err := r.send(ctx, line); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

// command handles a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/clear":
		if err := r.agent.ClearHistory(ctx); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "History cleared.")
	case "/tools":
		printTools(r.out, r.tools)
	case "/stats":
		stats := r.agent.Stats()
		fmt.Fprintf(r.out, "Total messages: %d\n", stats.Total)
		fmt.Fprintf(r.out, "User messages: %d\n", stats.User)
		fmt.Fprintf(r.out, "Assistant messages: %d\n", stats.Assistant)
		fmt.Fprintf(r.out, "Context window: %d messages\n", stats.ContextWindow)
	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", line)
	}
	return false
}

// send runs one turn and prints its events as they arrive.
func (r *repl) send(ctx context.Context, text string) error {
	events, err := r.agent.Send(ctx, text)
	if err != nil {
		if errors.Is(err, agent.ErrTurnInProgress) {
			return fmt.Errorf("still answering the previous message")
		}
		return err
	}

	for ev := range events {
		switch ev.Kind {
		case agent.EventText, agent.EventStatus, agent.EventWarning, agent.EventError:
			fmt.Fprint(r.out, ev.Text)
		case agent.EventSettled:
			fmt.Fprintln(r.out)
		}
	}
	return nil
}
