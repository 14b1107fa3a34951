package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points HOME at a temporary directory and clears every
// variable the config loader reads.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{
		"ANTHROPIC_API_KEY", "Anthropic_API_key", "OPENAI_API_KEY",
		"MCP_CONFIG", "MAX_CONTEXT_MESSAGES",
		"LAINBOT_AI_API_KEY", "LAINBOT_AI_PROVIDER", "LAINBOT_AI_MODEL",
		"LAINBOT_PROVIDERS_FILE", "LAINBOT_AGENT_CONTEXT_WINDOW",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	return home
}

// resetFlags clears flags that cobra leaves set between executions of the
// shared root command.
func resetFlags(cmd *cobra.Command) {
	for _, name := range []string{"help", "version", "probe"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("should print the version", func(t *testing.T) {
		output, err := execute(t, nil, "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "lainbot version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("should describe the program in help", func(t *testing.T) {
		output, err := execute(t, nil, "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "lainbot")
		assert.Contains(t, output, "MCP providers")
		for _, sub := range []string{"chat", "tools", "status", "configure"} {
			assert.Contains(t, output, sub)
		}
	})

	t.Run("should expose global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
