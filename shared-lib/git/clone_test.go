package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/margo/rust-builder/shared-lib/git/gittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultGitBinary); err != nil {
		t.Skip("git binary not available")
	}
}

func TestRepositoryName(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "https with .git", url: "https://github.com/user/myproject.git", want: "myproject"},
		{name: "https without .git", url: "https://github.com/user/myproject", want: "myproject"},
		{name: "https trailing slash", url: "https://github.com/user/myproject/", want: "myproject"},
		{name: "scp-like", url: "git@github.com:user/myproject.git", want: "myproject"},
		{name: "ssh scheme", url: "ssh://git@github.com:2222/user/myproject.git", want: "myproject"},
		{name: "local path", url: "/srv/git/myproject/", want: "myproject"},
		{name: "only suffix stripped once", url: "https://example.com/org/tool.git.git", want: "tool.git"},
		{name: "no path", url: "https://github.com", wantErr: true},
		{name: "empty", url: "", wantErr: true},
		{name: "blank", url: "   ", wantErr: true},
		{name: "dot", url: ".", wantErr: true},
		{name: "dot dot", url: "..", wantErr: true},
		{name: "relative path", url: "relative/dir", wantErr: true},
		{name: "file scheme", url: "file:///srv/git/myproject.git", want: "myproject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepositoryName(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	requireGit(t)

	_, err := NewClient(nil, "", "/tmp/x", "")
	assert.ErrorContains(t, err, "URL cannot be empty")

	_, err = NewClient(nil, "https://example.com/a.git", "", "")
	assert.ErrorContains(t, err, "path cannot be empty")

	_, err = NewClient(nil, "https://example.com/a.git", "/tmp/x", "/definitely/not/git")
	assert.ErrorContains(t, err, "not found")
}

func TestProvision_ClonesThenOpens(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := gittest.InitRemote(t)
	want := gittest.Head(t, remote)
	dst := filepath.Join(t.TempDir(), "checkout")

	client, err := NewClient(nil, remote, dst, "")
	require.NoError(t, err)

	_, err = client.HeadHash()
	require.Error(t, err, "head must not be readable before provisioning")

	cloned, err := client.Provision(ctx, nil)
	require.NoError(t, err)
	assert.True(t, cloned)

	got, err := client.HeadHash()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	reopened, err := NewClient(nil, remote, dst, "")
	require.NoError(t, err)
	cloned, err = reopened.Provision(ctx, nil)
	require.NoError(t, err)
	assert.False(t, cloned)

	got, err = reopened.HeadHash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProvision_ExistingNonRepositoryFails(t *testing.T) {
	requireGit(t)

	dst := t.TempDir()
	client, err := NewClient(nil, "https://example.com/org/repo.git", dst, "")
	require.NoError(t, err)

	_, err = client.Provision(context.Background(), nil)
	assert.ErrorContains(t, err, "failed to open repository")

	var cloneErr *CloneError
	assert.False(t, errors.As(err, &cloneErr))
}

func TestProvision_FailedCloneLeavesNothingBehind(t *testing.T) {
	requireGit(t)

	dst := filepath.Join(t.TempDir(), "checkout")
	client, err := NewClient(nil, filepath.Join(t.TempDir(), "missing-remote"), dst, "")
	require.NoError(t, err)

	_, err = client.Provision(context.Background(), nil)
	require.Error(t, err)

	var cloneErr *CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, dst, cloneErr.Path)

	_, statErr := os.Stat(dst)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFetchAndResetHard_FollowsRemote(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := gittest.InitRemote(t)
	dst := filepath.Join(t.TempDir(), "checkout")

	client, err := NewClient(nil, remote, dst, "")
	require.NoError(t, err)
	_, err = client.Provision(ctx, nil)
	require.NoError(t, err)

	next := gittest.Commit(t, remote, "src/main.rs", "fn main() {}\n")

	// Local edits must be discarded by the reset.
	require.NoError(t, os.WriteFile(filepath.Join(dst, "README.md"), []byte("dirty\n"), 0644))

	require.NoError(t, client.Fetch(ctx))
	require.NoError(t, client.ResetHard(ctx, gittest.DefaultBranch))

	got, err := client.HeadHash()
	require.NoError(t, err)
	assert.Equal(t, next, got)

	content, err := os.ReadFile(filepath.Join(dst, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "initial\n", string(content))
}

func TestResetHard_UnknownBranch(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	remote := gittest.InitRemote(t)
	client, err := NewClient(nil, remote, filepath.Join(t.TempDir(), "checkout"), "")
	require.NoError(t, err)
	_, err = client.Provision(ctx, nil)
	require.NoError(t, err)

	err = client.ResetHard(ctx, "does-not-exist")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.NotZero(t, cmdErr.ExitCode)
}

func TestAuth_KeyPathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	auth := &Auth{SSHKey: "~/.ssh/id_ed25519"}
	got, err := auth.KeyPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), got)

	var none *Auth
	got, err = none.KeyPath()
	require.NoError(t, err)
	assert.Empty(t, got)
}
