package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := runCommand(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "callguard version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := runCommand(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "circuit breakers")
		for _, name := range []string{"config", "metrics", "start", "status", "stop"} {
			assert.Contains(t, output, name)
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)

		require.NotNil(t, cmd.PersistentFlags().Lookup("pid-file"))
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestGetPIDFilePath(t *testing.T) {
	defer func() { pidFile = "" }()

	assert.True(t, strings.HasSuffix(getPIDFilePath(), "callguard.pid"))

	pidFile = "/run/custom.pid"
	assert.Equal(t, "/run/custom.pid", getPIDFilePath())
}
