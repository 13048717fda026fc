package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	goGit "github.com/go-git/go-git/v5"
)

// DefaultGitBinary is looked up on PATH when no explicit git binary is given.
const DefaultGitBinary = "git"

// Client owns one local working copy and the remote it tracks.
//
// The working copy lives at repoPath; the metadata store is repoPath/.git.
// Fetch and reset are delegated to the git CLI, everything that only reads
// or creates the repository goes through go-git.
type Client struct {
	url       string
	repoPath  string
	gitBinary string
	auth      *Auth

	mu   sync.Mutex
	repo *goGit.Repository
}

// NewClient validates its inputs and returns a client for the working copy at
// repoPath. The repository is not touched until Provision is called.
func NewClient(auth *Auth, url, repoPath, gitBinary string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("git URL cannot be empty")
	}
	if repoPath == "" {
		return nil, fmt.Errorf("repository path cannot be empty")
	}
	if gitBinary == "" {
		gitBinary = DefaultGitBinary
	}

	resolved, err := exec.LookPath(gitBinary)
	if err != nil {
		return nil, fmt.Errorf("git binary %s not found: %w", gitBinary, err)
	}

	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &Client{
		url:       url,
		repoPath:  absPath,
		gitBinary: resolved,
		auth:      auth,
	}, nil
}

// URL returns the remote the working copy was provisioned from.
func (client *Client) URL() string {
	return client.url
}

// Path returns the root of the working tree.
func (client *Client) Path() string {
	return client.repoPath
}

// GitDir returns the repository metadata directory.
func (client *Client) GitDir() string {
	return filepath.Join(client.repoPath, goGit.GitDirName)
}

func (client *Client) repository() (*goGit.Repository, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.repo == nil {
		return nil, fmt.Errorf("repository at %s has not been provisioned", client.repoPath)
	}
	return client.repo, nil
}
