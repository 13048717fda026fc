package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/margo/rust-builder/agent/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RUST_BUILDER"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var completions string

	cmd := &cobra.Command{
		Use:   "rust-builder [repository-path...]",
		Short: "Continuously build and publish Rust binaries from git branches",
		Long: `rust-builder watches git repository/branch targets. Whenever a branch
tip advances it rebuilds the project with cargo and uploads the resulting
executables to a bin-serve endpoint as <binary>-<commit>.

Targets come from --config, or from repository paths given as arguments.
Every flag can also be set through RUST_BUILDER_<FLAG> environment
variables; a .env file in the working directory is loaded first.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if completions != "" {
				return writeCompletions(cmd.Root(), completions, cmd.OutOrStdout())
			}

			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			opts := optionsFromViper(v, args)
			once := v.GetBool("once")

			logger, closeLogs, err := newLogger(opts.LogLevel, opts.LogsDir)
			if err != nil {
				return err
			}
			defer closeLogs()
			log := logger.Sugar()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agent, err := NewAgent(ctx, opts, log)
			if err != nil {
				log.Errorw("Failed to start agent", "error", err)
				return err
			}

			if once {
				err = agent.RunOnce(ctx)
			} else {
				err = agent.Run(ctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Agent failed", "error", err)
				return err
			}
			return nil
		},
	}

	defaults := types.DefaultOptions()
	flags := cmd.Flags()
	flags.StringVar(&completions, "completions", "", "Print the completion script for a shell (bash|zsh|fish|powershell) and exit")
	flags.String("config", "", "Path to the rust-builder config file")
	flags.String("branch", defaults.Branch, "Branch tracked by repository paths given as arguments")
	flags.String("bin-serve-endpoint", defaults.BinServeEndpoint, "Bin serve instance to upload binaries to")
	flags.String("bin-serve-token", "", "Bearer token presented to the bin serve endpoint")
	flags.String("bin-serve-ca", "", "CA bundle used to verify the bin serve endpoint")
	flags.String("cargo-path", defaults.CargoPath, "Path to the cargo executable")
	flags.String("git-path", defaults.GitPath, "Path to the git executable")
	flags.String("logs", "", "Directory to write log files to")
	flags.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	flags.Duration("poll-interval", defaults.PollInterval, "Wait between cycles of a target")
	flags.Duration("max-backoff", defaults.MaxBackoff, "Longest wait between cycles of a failing target")
	flags.String("state-dir", "", "Directory to persist build state in (in-memory when empty)")
	flags.String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled when empty)")
	flags.Int("max-parallel-builds", defaults.MaxParallelBuilds, "Number of builds allowed to run at once")
	flags.Bool("retry-failed-uploads", defaults.RetryFailedUploads, "Re-upload binaries whose upload failed for the current commit")
	flags.Bool("once", false, "Run a single cycle of every target and exit")

	cmd.MarkFlagFilename("config", "yaml", "yml")
	cmd.MarkFlagFilename("cargo-path")
	cmd.MarkFlagDirname("logs")
	cmd.MarkFlagDirname("state-dir")
	cmd.RegisterFlagCompletionFunc("completions", cobra.FixedCompletions(
		[]string{"bash", "zsh", "fish", "powershell"}, cobra.ShellCompDirectiveNoFileComp))

	bindFlags(v, flags)
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "completions" {
			return
		}
		v.BindPFlag(f.Name, f)
	})
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func optionsFromViper(v *viper.Viper, args []string) types.Options {
	return types.Options{
		ConfigPath:         v.GetString("config"),
		RepoPaths:          args,
		Branch:             v.GetString("branch"),
		BinServeEndpoint:   v.GetString("bin-serve-endpoint"),
		BinServeToken:      v.GetString("bin-serve-token"),
		BinServeCA:         v.GetString("bin-serve-ca"),
		CargoPath:          v.GetString("cargo-path"),
		GitPath:            v.GetString("git-path"),
		LogsDir:            v.GetString("logs"),
		LogLevel:           v.GetString("log-level"),
		PollInterval:       v.GetDuration("poll-interval"),
		MaxBackoff:         v.GetDuration("max-backoff"),
		StateDir:           v.GetString("state-dir"),
		MetricsAddr:        v.GetString("metrics-addr"),
		MaxParallelBuilds:  v.GetInt("max-parallel-builds"),
		RetryFailedUploads: v.GetBool("retry-failed-uploads"),
	}
}

// loadDotEnv copies variables from a dotenv file into the process
// environment. Variables that are already set win. A missing file is fine.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

func writeCompletions(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell %q (expected bash, zsh, fish or powershell)", shell)
	}
}
