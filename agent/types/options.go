package types

import (
	"errors"
	"time"

	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/git"
)

// Options are the runtime settings taken from flags and the environment.
type Options struct {
	ConfigPath         string
	RepoPaths          []string
	Branch             string
	BinServeEndpoint   string
	BinServeToken      string
	BinServeCA         string
	CargoPath          string
	GitPath            string
	LogsDir            string
	LogLevel           string
	PollInterval       time.Duration
	MaxBackoff         time.Duration
	StateDir           string
	MetricsAddr        string
	MaxParallelBuilds  int
	RetryFailedUploads bool
}

const (
	DefaultBinServeEndpoint  = "http://localhost:8080"
	DefaultBranch            = "main"
	DefaultPollInterval      = 15 * time.Second
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultMaxParallelBuilds = 1
	DefaultLogLevel          = "info"
)

var errNoTargets = errors.New("either --config or at least one repository path is required")

// DefaultOptions returns Options populated with the documented defaults.
func DefaultOptions() Options {
	return Options{
		Branch:            DefaultBranch,
		BinServeEndpoint:  DefaultBinServeEndpoint,
		CargoPath:         build.DefaultCargoPath,
		GitPath:           git.DefaultGitBinary,
		LogLevel:          DefaultLogLevel,
		PollInterval:      DefaultPollInterval,
		MaxBackoff:        DefaultMaxBackoff,
		MaxParallelBuilds: DefaultMaxParallelBuilds,
	}
}

// ResolveTargets returns the targets named by the config file, or by the
// positional repository paths when no config file is given.
func (o Options) ResolveTargets() ([]Target, error) {
	if o.ConfigPath == "" {
		if len(o.RepoPaths) == 0 {
			return nil, NewAgentError(AgentComponentConfig, AgentOperationReadingConfig,
				errNoTargets, false)
		}
		return PathTargets(o.RepoPaths, o.Branch)
	}

	cfg, err := LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	return cfg.ResolveTargets()
}
