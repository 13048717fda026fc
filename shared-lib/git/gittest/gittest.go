// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goGit "github.com/go-git/go-git/v5"
	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	goGitObject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// DefaultBranch is the branch go-git initializes repositories with.
const DefaultBranch = "master"

// InitRemote creates a non-bare repository in a temporary directory with a
// single initial commit and returns its path.
func InitRemote(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	_, err := goGit.PlainInit(dir, false)
	require.NoError(t, err)

	Commit(t, dir, "README.md", "initial\n")
	return dir
}

// Commit writes content to name inside the repository at dir and commits it.
func Commit(t *testing.T, dir, name, content string) goGitPlumbing.Hash {
	t.Helper()

	repo, err := goGit.PlainOpen(dir)
	require.NoError(t, err)
	worktree, err := repo.Worktree()
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err = worktree.Add(name)
	require.NoError(t, err)

	hash, err := worktree.Commit("update "+name, &goGit.CommitOptions{
		Author: &goGitObject.Signature{
			Name:  "builder-test",
			Email: "builder-test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return hash
}

// Head returns the commit HEAD points at in the repository at dir.
func Head(t *testing.T, dir string) goGitPlumbing.Hash {
	t.Helper()

	repo, err := goGit.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	return head.Hash()
}
