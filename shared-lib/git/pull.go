package git

import (
	"context"
	"fmt"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
)

// Fetch updates the remote-tracking refs of the working copy.
//
// Failures here are usually transient (network, auth) and callers are
// expected to retry on their next cycle.
func (client *Client) Fetch(ctx context.Context) error {
	if err := client.runGit(ctx, "fetch"); err != nil {
		return fmt.Errorf("failed to fetch from remote: %w", err)
	}
	return nil
}

// ResetHard forces the working tree and index to origin/<branch>, discarding
// any local changes.
func (client *Client) ResetHard(ctx context.Context, branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if err := client.runGit(ctx, "reset", "--hard", "origin/"+branch); err != nil {
		return fmt.Errorf("failed to reset to origin/%s: %w", branch, err)
	}
	return nil
}

// HeadHash returns the commit currently checked out.
func (client *Client) HeadHash() (goGitPlumbing.Hash, error) {
	repo, err := client.repository()
	if err != nil {
		return goGitPlumbing.ZeroHash, err
	}

	head, err := repo.Head()
	if err != nil {
		return goGitPlumbing.ZeroHash, fmt.Errorf("failed to get repository head: %w", err)
	}
	return head.Hash(), nil
}
