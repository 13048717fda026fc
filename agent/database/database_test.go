package database

import (
	"os"
	"path/filepath"
	"testing"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/margo/rust-builder/agent/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	commitA = goGitPlumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	commitB = goGitPlumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestDatabase_LastBuild(t *testing.T) {
	db, err := NewDatabase("", nil)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.LastBuild("api@main").IsZero())

	db.SetLastBuild("api@main", commitA)
	assert.Equal(t, commitA, db.LastBuild("api@main"))
	assert.True(t, db.LastBuild("api@stable").IsZero())

	record, err := db.GetTarget("api@main")
	require.NoError(t, err)
	assert.Equal(t, commitA.String(), record.LastBuild)
	assert.False(t, record.LastBuiltAt.IsZero())

	_, err = db.GetTarget("missing")
	assert.Error(t, err)
}

func TestDatabase_PendingUploads(t *testing.T) {
	db, err := NewDatabase("", nil)
	require.NoError(t, err)
	defer db.Close()

	binaries := []string{"worker", "server"}
	assert.Equal(t, []string{"server", "worker"}, db.PendingUploads("api@main", commitA, binaries))

	db.RecordUpload("api@main", "server", commitA, "server-"+commitA.String(), "sha256:00")
	assert.Equal(t, []string{"worker"}, db.PendingUploads("api@main", commitA, binaries))

	// A newer commit has nothing uploaded yet.
	assert.Equal(t, []string{"server", "worker"}, db.PendingUploads("api@main", commitB, binaries))

	db.RecordUpload("api@main", "worker", commitA, "worker-"+commitA.String(), "")
	assert.Empty(t, db.PendingUploads("api@main", commitA, binaries))
}

func TestDatabase_ArtifactsCommit(t *testing.T) {
	db, err := NewDatabase("", nil)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.ArtifactsCommit("/srv/api").IsZero())

	db.SetArtifactsCommit("/srv/api", commitA)
	assert.Equal(t, commitA, db.ArtifactsCommit("/srv/api"))

	db.SetArtifactsCommit("/srv/api", goGitPlumbing.ZeroHash)
	assert.True(t, db.ArtifactsCommit("/srv/api").IsZero())
}

func TestDatabase_Subscribe(t *testing.T) {
	db, err := NewDatabase("", nil)
	require.NoError(t, err)
	defer db.Close()

	var events []BuildEvent
	db.Subscribe(func(event BuildEvent) { events = append(events, event) })

	db.SetLastBuild("api@main", commitA)
	db.RecordUpload("api@main", "server", commitA, "server-"+commitA.String(), "")

	require.Len(t, events, 2)
	assert.Equal(t, EventTargetBuilt, events[0].Type)
	assert.Equal(t, commitA, events[0].Commit)
	assert.Equal(t, EventBinaryUploaded, events[1].Type)
	assert.Equal(t, "server", events[1].Binary)
}

func TestDatabase_ListTargetsReturnsCopies(t *testing.T) {
	db, err := NewDatabase("", nil)
	require.NoError(t, err)
	defer db.Close()

	db.SetLastBuild("zeta@main", commitA)
	db.RecordUpload("api@main", "server", commitB, "server-"+commitB.String(), "")

	records := db.ListTargets()
	require.Len(t, records, 2)
	assert.Equal(t, "api@main", records[0].TargetID)
	assert.Equal(t, "zeta@main", records[1].TargetID)

	records[0].Uploads["server"] = UploadRecord{Commit: commitA.String()}
	assert.Equal(t, []string{"server"}, db.PendingUploads("api@main", commitA, []string{"server"}))
}

func TestDatabase_PersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	db, err := NewDatabase(dir, nil)
	require.NoError(t, err)
	db.SetLastBuild("api@main", commitB)
	db.RecordUpload("api@main", "server", commitB, "server-"+commitB.String(), "sha256:ff")
	db.SetArtifactsCommit("/srv/api", commitB)
	db.Close()

	assert.FileExists(t, filepath.Join(dir, stateFileName))
	assert.NoFileExists(t, filepath.Join(dir, stateFileName+".tmp"))

	restored, err := NewDatabase(dir, nil)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, commitB, restored.LastBuild("api@main"))
	assert.Equal(t, commitB, restored.ArtifactsCommit("/srv/api"))
	assert.Equal(t, []string{"worker"}, restored.PendingUploads("api@main", commitB, []string{"server", "worker"}))

	record, err := restored.GetTarget("api@main")
	require.NoError(t, err)
	want := &TargetRecord{
		TargetID:  "api@main",
		LastBuild: commitB.String(),
		Uploads: map[string]UploadRecord{
			"server": {Commit: commitB.String(), FileName: "server-" + commitB.String(), Digest: "sha256:ff"},
		},
	}
	ignoreTimes := cmpopts.IgnoreFields(TargetRecord{}, "LastBuiltAt")
	ignoreUploadTimes := cmpopts.IgnoreFields(UploadRecord{}, "UploadedAt")
	if diff := cmp.Diff(want, record, ignoreTimes, ignoreUploadTimes); diff != "" {
		t.Errorf("restored record mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_CorruptStateFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0644))

	_, err := NewDatabase(dir, nil)
	require.Error(t, err)

	var agentErr types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, types.AgentComponentDatabase, agentErr.Component)
}

func TestDatabase_CloseIsIdempotent(t *testing.T) {
	db, err := NewDatabase(t.TempDir(), nil)
	require.NoError(t, err)
	db.Close()
	db.Close()
}
