package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Provision opens the working copy at the client's path, cloning the remote
// into it first when nothing exists there yet.
//
// A fresh clone has all of its submodules initialized and updated, including
// nested ones, using the same credentials as the clone. A partially cloned
// directory is removed again when the clone or a submodule update fails so the
// next attempt starts from scratch.
//
// Parameters:
//   - ctx: Bounds the clone and submodule updates; opening an existing copy does not block
//   - progress: Receives the clone's progress output (optional, nil discards it)
//
// Returns:
//   - cloned: True when the working copy was created by this call
//   - err: A *CloneError when cloning failed, or an error describing why the
//     existing path could not be opened
//
// Important Notes:
//   - An existing path is never re-cloned, even if it is not a git repository
//   - Fetching and resetting are separate operations (see Fetch and ResetHard)
//
// Example:
//
//	client, err := NewClient(&Auth{SSHKey: "~/.ssh/deploy"}, "git@github.com:acme/api.git", "/srv/builds/api", "")
//	if err != nil {
//	    return err
//	}
//	cloned, err := client.Provision(ctx, os.Stdout)
//	var cloneErr *CloneError
//	if errors.As(err, &cloneErr) {
//	    // the remote could not be cloned into /srv/builds/api
//	}
func (client *Client) Provision(ctx context.Context, progress io.Writer) (cloned bool, err error) {
	var repo *goGit.Repository

	if _, statErr := os.Stat(client.repoPath); statErr == nil {
		repo, err = goGit.PlainOpen(client.repoPath)
		if err != nil {
			return false, fmt.Errorf("failed to open repository at %s: %w", client.repoPath, err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		repo, err = client.clone(ctx, progress)
		if err != nil {
			os.RemoveAll(client.repoPath)
			return false, &CloneError{URL: client.url, Path: client.repoPath, Err: err}
		}
		cloned = true
	} else {
		return false, fmt.Errorf("failed to access repository path %s: %w", client.repoPath, statErr)
	}

	client.mu.Lock()
	client.repo = repo
	client.mu.Unlock()

	return cloned, nil
}

// CloneError is returned by Provision when a missing working copy could not be
// cloned.
type CloneError struct {
	URL  string
	Path string
	Err  error
}

func (e *CloneError) Error() string {
	return e.Err.Error()
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

func (client *Client) clone(ctx context.Context, progress io.Writer) (*goGit.Repository, error) {
	authMethod, err := getAuthMethod(client.url, client.auth)
	if err != nil {
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}

	repo, err := goGit.PlainCloneContext(ctx, client.repoPath, false, &goGit.CloneOptions{
		URL:      client.url,
		Auth:     authMethod,
		Progress: progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository from %s: %w", client.url, err)
	}

	if err := updateSubmodules(ctx, repo, client.auth); err != nil {
		return nil, err
	}
	return repo, nil
}

// updateSubmodules initializes and updates every submodule reachable from
// root. Nested submodules are discovered through an explicit worklist so the
// nesting depth is not bounded by the call stack.
func updateSubmodules(ctx context.Context, root *goGit.Repository, auth *Auth) error {
	worklist := []*goGit.Repository{root}

	for len(worklist) > 0 {
		repo := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get working tree: %w", err)
		}
		submodules, err := worktree.Submodules()
		if err != nil {
			return fmt.Errorf("failed to list submodules: %w", err)
		}

		for _, submodule := range submodules {
			cfg := submodule.Config()

			authMethod, err := getAuthMethod(cfg.URL, auth)
			if err != nil {
				return fmt.Errorf("failed to setup authentication for submodule %s: %w", cfg.Name, err)
			}

			err = submodule.UpdateContext(ctx, &goGit.SubmoduleUpdateOptions{
				Init: true,
				Auth: authMethod,
			})
			if err != nil {
				return fmt.Errorf("failed to update submodule %s: %w", cfg.Name, err)
			}

			subRepo, err := submodule.Repository()
			if err != nil {
				return fmt.Errorf("failed to open submodule %s: %w", cfg.Name, err)
			}
			worklist = append(worklist, subRepo)
		}
	}

	return nil
}

// RepositoryName derives the local checkout name from a repository locator.
//
// Returns:
//   - string: The final path segment of the locator, without a trailing ".git"
//   - error: When the locator is empty, is a relative local path, or has no
//     usable final segment
//
// Supported locator formats:
//   - HTTPS or HTTP, with or without .git suffix: https://github.com/user/repo.git
//   - SSH scheme: ssh://git@github.com:2222/user/repo.git
//   - SCP-like SSH: git@github.com:user/repo.git
//   - Absolute local paths and file:// URLs: /srv/git/repo
//
// Relative local paths are rejected since they would depend on the working
// directory of the process.
//
// Examples:
//
//	RepositoryName("https://github.com/user/myproject.git") // "myproject"
//	RepositoryName("git@github.com:user/myproject.git")     // "myproject"
//	RepositoryName("/srv/git/myproject/")                   // "myproject"
//	RepositoryName("relative/dir")                          // error
func RepositoryName(url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("repository URL cannot be empty")
	}

	endpoint, err := transport.NewEndpoint(url)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL %s: %w", url, err)
	}
	if endpoint.Protocol == "file" && !strings.HasPrefix(url, "file://") && !filepath.IsAbs(url) {
		return "", fmt.Errorf("local repository path %s must be absolute", url)
	}

	p := strings.TrimRight(endpoint.Path, "/")
	p = strings.TrimSuffix(p, ".git")
	p = strings.TrimRight(p, "/")
	name := path.Base(p)

	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("failed to derive repository name from URL %s", url)
	}
	return name, nil
}
