package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/lainbot/pkg/catalog"
	"github.com/harun/lainbot/pkg/supervisor"
)

var toolsTimeout time.Duration

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered by the configured providers",
	Long: `Connect to every provider in the provider file, wait for the handshakes
and print the tools each one offers under their namespaced ids.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", 15*time.Second, "how long to wait for providers")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	a.waitForProviders(cmd.Context(), toolsTimeout)
	printTools(cmd.OutOrStdout(), a.sup)
	return nil
}

// toolDirectory lists providers and their tools.
type toolDirectory interface {
	Providers() []supervisor.Status
	Catalog() *catalog.Catalog
}

func printTools(w io.Writer, dir toolDirectory) {
	statuses := dir.Providers()
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No MCP providers configured.")
		return
	}

	byProvider := dir.Catalog().ByProvider()
	for _, st := range statuses {
		fmt.Fprintf(w, "%s [%s]", st.Name, st.State)
		if st.Err != nil {
			fmt.Fprintf(w, " %v", st.Err)
		}
		fmt.Fprintln(w)

		tools := byProvider[st.Name]
		if len(tools) == 0 {
			fmt.Fprintln(w, "  (no tools)")
			continue
		}
		for _, tool := range tools {
			if tool.Description != "" {
				fmt.Fprintf(w, "  %s - %s\n", tool.ID(), tool.Description)
			} else {
				fmt.Fprintf(w, "  %s\n", tool.ID())
			}
		}
	}
}
