package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/margo/rust-builder/agent/types"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletions(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			cmd := newRootCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"--completions", shell})

			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), "rust-builder")
		})
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--completions", "tcsh"})
	assert.ErrorContains(t, cmd.Execute(), "unsupported shell")
}

func TestOptions_Defaults(t *testing.T) {
	v := viper.New()
	cmd := newRootCmd()
	bindFlags(v, cmd.Flags())

	opts := optionsFromViper(v, []string{"/srv/api"})
	want := types.DefaultOptions()
	want.RepoPaths = []string{"/srv/api"}
	assert.Equal(t, want, opts)
}

func TestOptions_FlagsAndEnvironment(t *testing.T) {
	t.Setenv("RUST_BUILDER_BIN_SERVE_ENDPOINT", "https://bins.example.com")
	t.Setenv("RUST_BUILDER_POLL_INTERVAL", "1m")
	t.Setenv("RUST_BUILDER_RETRY_FAILED_UPLOADS", "true")

	v := viper.New()
	cmd := newRootCmd()
	bindFlags(v, cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--max-parallel-builds", "3", "--config", "builder.yaml"}))

	opts := optionsFromViper(v, nil)
	assert.Equal(t, "https://bins.example.com", opts.BinServeEndpoint)
	assert.Equal(t, time.Minute, opts.PollInterval)
	assert.True(t, opts.RetryFailedUploads)
	assert.Equal(t, 3, opts.MaxParallelBuilds)
	assert.Equal(t, "builder.yaml", opts.ConfigPath)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RUST_BUILDER_TEST_TOKEN=from-file\nRUST_BUILDER_TEST_KEEP=from-file\n"), 0600))

	t.Setenv("RUST_BUILDER_TEST_KEEP", "from-env")
	t.Setenv("RUST_BUILDER_TEST_TOKEN", "")
	os.Unsetenv("RUST_BUILDER_TEST_TOKEN")

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("RUST_BUILDER_TEST_TOKEN"))
	assert.Equal(t, "from-env", os.Getenv("RUST_BUILDER_TEST_KEEP"))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closeLogs, err := newLogger("debug", dir)
	require.NoError(t, err)
	logger.Sugar().Infow("Rebuilt target", "commitHash", "abc")
	closeLogs()

	content, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"Rebuilt target"`)
	assert.Contains(t, string(content), `"commitHash":"abc"`)

	_, _, err = newLogger("loud", "")
	assert.Error(t, err)
}

func TestRun_RequiresTargets(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "error"})
	assert.ErrorContains(t, cmd.Execute(), "at least one repository path")
}
