package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/margo/rust-builder/agent/types"
	"github.com/margo/rust-builder/shared-lib/git"
	"go.uber.org/zap"
)

// Opener provisions the working copy a target points at.
type Opener func(ctx context.Context, target types.Target) (Repository, error)

// GitOpener opens or clones working copies with the git client.
func GitOpener(gitBinary string, progress io.Writer, log *zap.SugaredLogger) Opener {
	return func(ctx context.Context, target types.Target) (Repository, error) {
		client, err := git.NewClient(&git.Auth{SSHKey: target.SSHKey}, target.Repository, target.Path, gitBinary)
		if err != nil {
			return nil, err
		}

		cloned, err := client.Provision(ctx, progress)
		if err != nil {
			return nil, err
		}
		if cloned {
			log.Infow("Cloned repository", "repository", target.Repository, "path", client.Path())
		} else {
			log.Debugw("Opened repository", "path", client.Path())
		}
		return client, nil
	}
}

// repoEntry is one working copy shared by every target that points at it.
type repoEntry struct {
	repo Repository
	lock chan struct{}
}

// acquire takes exclusive use of the working copy or returns when ctx ends.
func (e *repoEntry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *repoEntry) release() {
	<-e.lock
}

// Registry holds every provisioned working copy for the life of the process,
// keyed by local path.
type Registry struct {
	open    Opener
	mu      sync.Mutex
	entries map[string]*repoEntry
}

func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:    open,
		entries: make(map[string]*repoEntry),
	}
}

// get returns the entry for the target's working copy, provisioning it on
// first use. Failures are not cached.
func (r *Registry) get(ctx context.Context, target types.Target) (*repoEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[target.Path]; ok {
		return entry, nil
	}

	repo, err := r.open(ctx, target)
	if err != nil {
		operation := types.AgentOperationOpeningRepo
		var cloneErr *git.CloneError
		if errors.As(err, &cloneErr) {
			operation = types.AgentOperationCloningRepo
		}
		return nil, types.NewAgentError(types.AgentComponentRepository, operation,
			fmt.Errorf("failed to provision %s: %w", target.Path, err), false).
			WithContext("target", target.ID())
	}

	entry := &repoEntry{repo: repo, lock: make(chan struct{}, 1)}
	r.entries[target.Path] = entry
	return entry, nil
}

// Len returns the number of provisioned working copies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
