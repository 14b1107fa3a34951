package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/lainbot/internal/config"
	"github.com/harun/lainbot/pkg/session"
)

var (
	statusProbe   bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, session and provider status",
	Long: `Show the active configuration, the saved session and the declared tool
providers. With --probe every provider is connected once and its state and
tool count are reported.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "connect to each provider and report its state")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "how long to wait for providers when probing")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config:   %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Provider: %s\n", cfg.AI.Provider)
	fmt.Fprintf(out, "Model:    %s\n", cfg.AI.Model)
	if cfg.AI.APIKey == "" {
		fmt.Fprintln(out, "API key:  missing")
	} else {
		fmt.Fprintln(out, "API key:  set")
	}
	fmt.Fprintf(out, "Window:   %d messages\n", cfg.Agent.ContextWindow)

	printSessionStatus(cmd, out, cfg)

	configs, err := config.LoadProviders(cfg.Providers.File)
	if err != nil {
		fmt.Fprintf(out, "\nProviders: invalid file %s: %v\n", cfg.Providers.File, err)
		return nil
	}
	fmt.Fprintf(out, "\nProviders (%s): %d declared\n", cfg.Providers.File, len(configs))

	if !statusProbe {
		for _, pc := range configs {
			fmt.Fprintf(out, "  %-16s %s\n", pc.Name, pc.Kind)
		}
		return nil
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	a.waitForProviders(cmd.Context(), statusTimeout)
	for _, st := range a.sup.Providers() {
		line := fmt.Sprintf("  %-16s %-10s %d tools", st.Name, st.State, st.Tools)
		if st.Err != nil {
			line += fmt.Sprintf("  (%v)", st.Err)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func printSessionStatus(cmd *cobra.Command, out io.Writer, cfg *config.Config) {
	store, err := session.NewStore(cfg.Session.Dir, cfg.Session.Name)
	if err != nil {
		fmt.Fprintf(out, "Session:  %v\n", err)
		return
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		fmt.Fprintf(out, "Session:  %s (empty)\n", store.Name())
		return
	}

	msgs, err := store.Load(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "Session:  %s (unreadable: %v)\n", store.Name(), err)
		return
	}
	fmt.Fprintf(out, "Session:  %s, %d messages, saved %s ago\n",
		store.Name(), len(msgs), formatDuration(time.Since(info.ModTime())))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
