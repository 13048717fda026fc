package monitor

import (
	"context"
	"time"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/margo/rust-builder/agent/database"
	"github.com/margo/rust-builder/agent/types"
	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/file"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Outcome is how a single target cycle ended.
type Outcome string

const (
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeBuilt          Outcome = "built"
	OutcomeUploadsRetried Outcome = "uploads_retried"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeResetFailed    Outcome = "reset_failed"
	OutcomeBuildFailed    Outcome = "build_failed"
	OutcomeCanceled       Outcome = "canceled"
)

// Failed reports whether the cycle should be retried with backoff.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeFetchFailed, OutcomeResetFailed, OutcomeBuildFailed:
		return true
	}
	return false
}

// CycleReport summarizes one cycle of one target.
type CycleReport struct {
	Target        types.Target
	CycleID       string
	Outcome       Outcome
	Commit        goGitPlumbing.Hash // HEAD after the reset, zero if never read
	Uploads       []file.UploadResult
	Missing       []string // configured executables absent from the build output
	Err           error
	Duration      time.Duration
	BuildDuration time.Duration
}

// FailedUploads returns the uploads that were not accepted.
func (r CycleReport) FailedUploads() []file.UploadResult {
	var failed []file.UploadResult
	for _, upload := range r.Uploads {
		if !upload.Succeeded() {
			failed = append(failed, upload)
		}
	}
	return failed
}

// TargetMonitor runs the fetch, reset, compare, build and upload cycle of one
// target. Cycles of one monitor must not run concurrently.
type TargetMonitor struct {
	target             types.Target
	repo               *repoEntry
	builder            Builder
	uploader           Uploader
	database           database.DatabaseIfc
	builds             *semaphore.Weighted
	retryFailedUploads bool
	log                *zap.SugaredLogger
}

// Target returns the target this monitor owns.
func (m *TargetMonitor) Target() types.Target {
	return m.target
}

// RunCycle performs one cycle. It never panics on external failures; every
// failure is reported through the returned report.
func (m *TargetMonitor) RunCycle(ctx context.Context) (report CycleReport) {
	start := time.Now()
	report = CycleReport{Target: m.target, CycleID: uuid.NewString()}
	log := m.log.With("cycleId", report.CycleID)

	defer func() {
		report.Duration = time.Since(start)
		if report.Err != nil && ctx.Err() != nil {
			report.Outcome = OutcomeCanceled
		}
	}()

	if err := m.repo.acquire(ctx); err != nil {
		report.Outcome, report.Err = OutcomeCanceled, err
		return report
	}
	defer m.repo.release()

	log.Debug("Fetching target")
	if err := m.repo.repo.Fetch(ctx); err != nil {
		report.Outcome = OutcomeFetchFailed
		report.Err = types.NewAgentError(types.AgentComponentRepository, types.AgentOperationFetching, err, true)
		return report
	}

	if err := m.repo.repo.ResetHard(ctx, m.target.Branch); err != nil {
		report.Outcome = OutcomeResetFailed
		report.Err = types.NewAgentError(types.AgentComponentRepository, types.AgentOperationResetting, err, true)
		return report
	}

	head, err := m.repo.repo.HeadHash()
	if err != nil {
		report.Outcome = OutcomeResetFailed
		report.Err = types.NewAgentError(types.AgentComponentRepository, types.AgentOperationReadingHead, err, true)
		return report
	}
	report.Commit = head

	if head == m.database.LastBuild(m.target.ID()) {
		return m.retryUploads(ctx, log, report)
	}

	log.Infow("New commit, rebuilding", "commitHash", head.String())

	artifactsDir, err := m.rebuild(ctx, &report)
	if err != nil {
		report.Outcome, report.Err = OutcomeBuildFailed, err
		return report
	}

	uploads, err := m.uploader.Upload(ctx, artifactsDir, m.target.Selects, head.String())
	m.recordUploads(head, uploads)
	report.Uploads = uploads
	if err != nil {
		report.Outcome = OutcomeBuildFailed
		report.Err = types.NewAgentError(types.AgentComponentUpload, types.AgentOperationUploading, err, true)
		return report
	}
	report.Missing = m.missing(uploads)

	// Individual upload failures do not hold the target back.
	m.database.SetLastBuild(m.target.ID(), head)
	report.Outcome = OutcomeBuilt
	return report
}

// retryUploads re-publishes configured binaries that have no successful upload
// for the current commit. It is a no-op unless enabled.
func (m *TargetMonitor) retryUploads(ctx context.Context, log *zap.SugaredLogger, report CycleReport) CycleReport {
	report.Outcome = OutcomeUnchanged
	if !m.retryFailedUploads || m.target.Executables == nil {
		return report
	}

	head := report.Commit
	pending := m.database.PendingUploads(m.target.ID(), head, m.target.Executables)
	if len(pending) == 0 {
		return report
	}
	log.Infow("Retrying failed uploads", "commitHash", head.String(), "binaries", pending)

	artifactsDir := build.ArtifactsDir(m.repo.repo.Path())
	if m.database.ArtifactsCommit(m.repo.repo.Path()) != head {
		// Another branch was built in this working copy since.
		dir, err := m.rebuild(ctx, &report)
		if err != nil {
			report.Outcome, report.Err = OutcomeBuildFailed, err
			return report
		}
		artifactsDir = dir
	}

	retry := func(binary string) bool {
		for _, name := range pending {
			if name == binary {
				return true
			}
		}
		return false
	}
	uploads, err := m.uploader.Upload(ctx, artifactsDir, retry, head.String())
	m.recordUploads(head, uploads)
	report.Uploads = uploads
	if err != nil {
		report.Err = types.NewAgentError(types.AgentComponentUpload, types.AgentOperationUploading, err, true)
	}
	report.Outcome = OutcomeUploadsRetried
	return report
}

func (m *TargetMonitor) rebuild(ctx context.Context, report *CycleReport) (string, error) {
	if err := m.builds.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.builds.Release(1)

	repoPath := m.repo.repo.Path()
	buildStart := time.Now()
	result, err := m.builder.Rebuild(ctx, build.Request{
		RepoPath:     repoPath,
		ManifestPath: m.target.ManifestPath,
	})
	report.BuildDuration = time.Since(buildStart)
	if err != nil {
		// The release directory was purged and no longer matches any commit.
		m.database.SetArtifactsCommit(repoPath, goGitPlumbing.ZeroHash)
		return "", types.NewAgentError(types.AgentComponentBuild, types.AgentOperationBuilding, err, true)
	}

	if len(result.Purged) > 0 {
		m.log.Infow("Purged stale binaries", "cycleId", report.CycleID, "binaries", result.Purged)
	}
	m.database.SetArtifactsCommit(repoPath, report.Commit)
	return result.ArtifactsDir, nil
}

func (m *TargetMonitor) recordUploads(commit goGitPlumbing.Hash, uploads []file.UploadResult) {
	for _, upload := range uploads {
		if upload.Succeeded() {
			m.database.RecordUpload(m.target.ID(), upload.Binary, commit, upload.FileName, upload.Digest.Digest)
		}
	}
}

func (m *TargetMonitor) missing(uploads []file.UploadResult) []string {
	if m.target.Executables == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(uploads))
	for _, upload := range uploads {
		seen[upload.Binary] = struct{}{}
	}

	var missing []string
	for _, name := range m.target.Executables {
		if _, ok := seen[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
