package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/margo/rust-builder/agent/database"
	"github.com/margo/rust-builder/agent/types"
	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/file"
	"github.com/stretchr/testify/require"
)

var (
	commitA = goGitPlumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	commitB = goGitPlumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type fakeRepo struct {
	mu       sync.Mutex
	path     string
	heads    map[string]goGitPlumbing.Hash // branch -> tip
	current  string
	fetchErr error
	resetErr error
	fetches  int
	resets   int
}

func newFakeRepo(path string, heads map[string]goGitPlumbing.Hash) *fakeRepo {
	return &fakeRepo{path: path, heads: heads}
}

func (r *fakeRepo) Path() string { return r.path }

func (r *fakeRepo) Fetch(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.fetchErr
}

func (r *fakeRepo) ResetHard(ctx context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	if r.resetErr != nil {
		return r.resetErr
	}
	if _, ok := r.heads[branch]; !ok {
		return fmt.Errorf("unknown revision origin/%s", branch)
	}
	r.current = branch
	return nil
}

func (r *fakeRepo) HeadHash() (goGitPlumbing.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == "" {
		return goGitPlumbing.ZeroHash, errors.New("reference not found")
	}
	return r.heads[r.current], nil
}

func (r *fakeRepo) advance(branch string, commit goGitPlumbing.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heads[branch] = commit
}

func (r *fakeRepo) setFetchErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchErr = err
}

type fakeBuilder struct {
	mu    sync.Mutex
	calls []build.Request
	err   error
}

func (b *fakeBuilder) Rebuild(ctx context.Context, req build.Request) (*build.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	if b.err != nil {
		return nil, b.err
	}
	return &build.Result{ArtifactsDir: build.ArtifactsDir(req.RepoPath)}, nil
}

func (b *fakeBuilder) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBuilder) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// fakeUploader pretends the artifacts directory holds binaries.
type fakeUploader struct {
	mu       sync.Mutex
	binaries []string
	fail     map[string]bool
	uploaded []string // file names, in upload order
}

func newFakeUploader(binaries ...string) *fakeUploader {
	sort.Strings(binaries)
	return &fakeUploader{binaries: binaries, fail: map[string]bool{}}
}

func (u *fakeUploader) Upload(ctx context.Context, artifactDir string, selected file.Selector, commitHash string) ([]file.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var results []file.UploadResult
	for _, binary := range u.binaries {
		if selected != nil && !selected(binary) {
			continue
		}
		result := file.UploadResult{
			Binary:     binary,
			FileName:   file.UploadName(binary, commitHash),
			Path:       artifactDir + "/" + binary,
			StatusCode: 200,
		}
		if u.fail[binary] {
			result.StatusCode = 500
			result.Err = errors.New("HTTP error: 500 Internal Server Error")
		} else {
			u.uploaded = append(u.uploaded, result.FileName)
		}
		results = append(results, result)
	}
	return results, nil
}

func (u *fakeUploader) setFail(binary string, fail bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fail[binary] = fail
}

func (u *fakeUploader) uploads() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.uploaded...)
}

type testEnv struct {
	server   *Server
	db       *database.Database
	repos    map[string]*fakeRepo
	builder  *fakeBuilder
	uploader *fakeUploader
}

func newTestEnv(t *testing.T, targets []types.Target, repos map[string]*fakeRepo, uploader *fakeUploader, settings Settings) *testEnv {
	t.Helper()

	db, err := database.NewDatabase("", nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	open := func(ctx context.Context, target types.Target) (Repository, error) {
		repo, ok := repos[target.Path]
		if !ok {
			return nil, fmt.Errorf("no repository at %s", target.Path)
		}
		return repo, nil
	}

	builder := &fakeBuilder{}
	server, err := NewServer(context.Background(), targets, Dependencies{
		Registry: NewRegistry(open),
		Builder:  builder,
		Uploader: uploader,
		Database: db,
	}, settings, nil)
	require.NoError(t, err)

	return &testEnv{server: server, db: db, repos: repos, builder: builder, uploader: uploader}
}

func apiTarget(branch string) types.Target {
	return types.Target{
		Name:        "api",
		Repository:  "https://example.com/acme/api.git",
		Path:        "/srv/api",
		Branch:      branch,
		Executables: []string{"server", "worker"},
	}
}
