package types

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/margo/rust-builder/shared-lib/git"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config is the builder's configuration file.
//
// Targets may be listed explicitly under "targets", or as a nested
// "repositories" mapping of repository name -> branch -> executables, in
// which case each repository is the existing working copy <root>/<name>.
type Config struct {
	Root         string                         `yaml:"root" validate:"required"`
	Targets      []TargetSpec                   `yaml:"targets" validate:"dive"`
	Repositories map[string]map[string][]string `yaml:"repositories" validate:"dive,keys,required,endkeys,required"`
}

// TargetSpec describes one repository/branch pair to monitor.
type TargetSpec struct {
	Repository   string   `yaml:"repository" validate:"required"`
	SSHKey       string   `yaml:"ssh_key"`
	Branch       string   `yaml:"branch" validate:"required"`
	Executables  []string `yaml:"executables" validate:"required,min=1,unique,dive,required"`
	ManifestPath string   `yaml:"manifest_path"`
}

// Target is a TargetSpec resolved against the root directory.
type Target struct {
	Name         string // Normalized repository name
	Repository   string // Clone source
	Path         string // Local working copy
	SSHKey       string // Expanded key path, empty for none
	Branch       string
	Executables  []string // Nil selects every candidate binary
	ManifestPath string
}

// ID identifies the target in logs, metrics and persisted state.
func (t Target) ID() string {
	return t.Name + "@" + t.Branch
}

// Selects reports whether binary is one of the target's executables.
func (t Target) Selects(binary string) bool {
	if t.Executables == nil {
		return true
	}
	for _, name := range t.Executables {
		if name == binary {
			return true
		}
	}
	return false
}

// ConfigManager interface
type ConfigManager interface {
	LoadAndValidateConfig() (*Config, error)
}

type configManager struct {
	validator      *validator.Validate
	configFilePath string
}

// NewConfigManager creates a new ConfigManager
func NewConfigManager(completeFilePath string) ConfigManager {
	return &configManager{
		validator:      validator.New(),
		configFilePath: completeFilePath,
	}
}

func (cm *configManager) LoadAndValidateConfig() (*Config, error) {
	data, err := os.ReadFile(cm.configFilePath)
	if err != nil {
		return nil, NewAgentError(AgentComponentConfig, AgentOperationReadingConfig,
			fmt.Errorf("failed to read config file: %w", err), false)
	}

	config, err := cm.parse(data)
	if err != nil {
		return nil, NewAgentError(AgentComponentConfig, AgentOperationValidatingConfig, err, false).
			WithContext("path", cm.configFilePath)
	}
	return config, nil
}

func (cm *configManager) parse(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cm.validator.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for name, branches := range config.Repositories {
		for branch, executables := range branches {
			if branch == "" {
				return nil, fmt.Errorf("invalid configuration: repositories.%s: branch name cannot be empty", name)
			}
			if err := cm.validator.Var(executables, "required,min=1,unique,dive,required"); err != nil {
				return nil, fmt.Errorf("invalid configuration: repositories.%s.%s: %w", name, branch, err)
			}
		}
	}
	if len(config.Targets) == 0 && len(config.Repositories) == 0 {
		return nil, errors.New("invalid configuration: no targets or repositories configured")
	}
	return &config, nil
}

// LoadConfig reads, decodes and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	return NewConfigManager(path).LoadAndValidateConfig()
}

// ResolveTargets expands the configuration into targets in a stable order:
// listed targets first, then the repositories mapping sorted by name and
// branch.
func (c *Config) ResolveTargets() ([]Target, error) {
	root, err := homedir.Expand(c.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", c.Root, err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", c.Root, err)
	}

	targets := make([]Target, 0, len(c.Targets))
	for _, spec := range c.Targets {
		name, err := git.RepositoryName(spec.Repository)
		if err != nil {
			return nil, err
		}
		sshKey, err := homedir.Expand(spec.SSHKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ssh key %q: %w", spec.SSHKey, err)
		}

		targets = append(targets, Target{
			Name:         name,
			Repository:   spec.Repository,
			Path:         filepath.Join(root, name),
			SSHKey:       sshKey,
			Branch:       spec.Branch,
			Executables:  spec.Executables,
			ManifestPath: spec.ManifestPath,
		})
	}

	names := make([]string, 0, len(c.Repositories))
	for name := range c.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		branches := c.Repositories[name]
		branchNames := make([]string, 0, len(branches))
		for branch := range branches {
			branchNames = append(branchNames, branch)
		}
		sort.Strings(branchNames)

		path := filepath.Join(root, name)
		repoName, err := git.RepositoryName(path)
		if err != nil {
			return nil, err
		}
		for _, branch := range branchNames {
			targets = append(targets, Target{
				Name:        repoName,
				Repository:  path,
				Path:        path,
				Branch:      branch,
				Executables: branches[branch],
			})
		}
	}

	if err := checkTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// checkTargets rejects targets that would share persisted state, and
// different repositories that would share one working copy.
func checkTargets(targets []Target) error {
	sources := make(map[string]string, len(targets))
	ids := make(map[string]struct{}, len(targets))

	for _, target := range targets {
		if source, ok := sources[target.Path]; ok && source != target.Repository {
			return fmt.Errorf("invalid configuration: repositories %s and %s would share the working copy %s",
				source, target.Repository, target.Path)
		}
		sources[target.Path] = target.Repository

		if _, ok := ids[target.ID()]; ok {
			return fmt.Errorf("invalid configuration: target %s is configured more than once", target.ID())
		}
		ids[target.ID()] = struct{}{}
	}
	return nil
}

// PathTargets builds one target per local working copy. Each target tracks
// branch and uploads every candidate binary it produces.
func PathTargets(paths []string, branch string) ([]Target, error) {
	if branch == "" {
		return nil, errors.New("branch cannot be empty")
	}

	targets := make([]Target, 0, len(paths))
	for _, p := range paths {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", p, err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", p, err)
		}
		name, err := git.RepositoryName(abs)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{
			Name:       name,
			Repository: abs,
			Path:       abs,
			Branch:     branch,
		})
	}

	if err := checkTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}
