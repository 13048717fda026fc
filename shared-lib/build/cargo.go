package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultCargoPath is where the cargo binary is expected unless configured otherwise.
const DefaultCargoPath = "/usr/local/bin/cargo"

// maxStderrBytes bounds how much of a failed build's stderr is kept.
const maxStderrBytes = 4096

// BuildError is returned when the build tool exits with a non-zero status.
type BuildError struct {
	RepoPath string
	ExitCode int
	Stderr   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("`cargo build --release` exited with code %d in %s: %s", e.ExitCode, e.RepoPath, e.Stderr)
}

// Request describes one release build of a repository.
type Request struct {
	RepoPath     string // Root of the working tree
	ManifestPath string // Optional manifest, relative to RepoPath
}

// Result reports what a rebuild did to the artifacts directory.
type Result struct {
	ArtifactsDir string
	Purged       []string // Stale candidate binaries deleted before the build
}

// CargoCliClient runs release builds with the cargo CLI.
type CargoCliClient struct {
	cargoBinary string
}

// NewCargoCliClient checks that the cargo binary exists and is executable.
func NewCargoCliClient(cargoPath string) (*CargoCliClient, error) {
	if cargoPath == "" {
		cargoPath = DefaultCargoPath
	}

	info, err := os.Stat(cargoPath)
	if err != nil {
		return nil, fmt.Errorf("cargo path does not exist: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&executeBits == 0 {
		return nil, fmt.Errorf("cargo path %s is not an executable file", cargoPath)
	}

	absPath, err := filepath.Abs(cargoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &CargoCliClient{cargoBinary: absPath}, nil
}

// ArtifactsDir returns the release output directory for a repository.
func ArtifactsDir(repoPath string) string {
	return filepath.Join(repoPath, "target", "release")
}

// Rebuild purges stale candidate binaries from the release directory and then
// runs a release build in the repository root.
//
// After a successful build every candidate binary in the release directory
// was produced by that build.
//
// Parameters:
//   - ctx: Cancels the build; the cargo process is killed when ctx ends
//   - req: The repository root (required) and an optional manifest path
//     relative to it. With a manifest path the target directory is pinned to
//     <RepoPath>/target so artifacts land in the same place.
//
// Returns:
//   - *Result: The release directory and the names of the purged binaries
//   - error: A *BuildError when cargo exits non-zero, ctx.Err() when canceled,
//     or an error when the purge or process start fails
//
// Important Notes:
//   - Only the last 4 KiB of stderr are kept on failure; stdout is discarded
//   - The process inherits the agent's environment (CARGO_HOME, RUSTUP_HOME, PATH)
//
// Example:
//
//	client, err := NewCargoCliClient("/usr/local/bin/cargo")
//	if err != nil {
//	    return err
//	}
//	result, err := client.Rebuild(ctx, Request{RepoPath: "/srv/builds/api"})
//	var buildErr *BuildError
//	if errors.As(err, &buildErr) {
//	    log.Errorw("Build failed", "exitCode", buildErr.ExitCode, "stderr", buildErr.Stderr)
//	}
func (c *CargoCliClient) Rebuild(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RepoPath) == "" {
		return nil, fmt.Errorf("repository path cannot be empty")
	}

	artifacts := ArtifactsDir(req.RepoPath)
	purged, err := PurgeCandidates(artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to purge stale artifacts: %w", err)
	}

	args := []string{"build", "--release"}
	if req.ManifestPath != "" {
		args = append(args,
			"--manifest-path", filepath.Join(req.RepoPath, req.ManifestPath),
			"--target-dir", filepath.Join(req.RepoPath, "target"),
		)
	}

	cmd := exec.CommandContext(ctx, c.cargoBinary, args...)
	cmd.Dir = req.RepoPath
	cmd.Env = os.Environ()
	cmd.Stdout = io.Discard

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run cargo: %w", err)
		}
		return nil, &BuildError{
			RepoPath: req.RepoPath,
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr.String(), maxStderrBytes),
		}
	}

	return &Result{ArtifactsDir: artifacts, Purged: purged}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
