package monitor

import (
	"context"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/file"
)

// Repository is a provisioned local working copy.
type Repository interface {
	Path() string
	Fetch(ctx context.Context) error
	ResetHard(ctx context.Context, branch string) error
	HeadHash() (goGitPlumbing.Hash, error)
}

// Builder regenerates the release artifacts of a working copy.
type Builder interface {
	Rebuild(ctx context.Context, req build.Request) (*build.Result, error)
}

// Uploader publishes the selected candidate binaries of an artifacts directory.
type Uploader interface {
	Upload(ctx context.Context, artifactDir string, selected file.Selector, commitHash string) ([]file.UploadResult, error)
}
