package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/margo/rust-builder/agent/types"
	"go.uber.org/zap"
)

const stateFileName = "builder.state.json"

// TargetRecord is the persisted build state of one target.
type TargetRecord struct {
	TargetID    string                  `json:"targetId"`
	LastBuild   string                  `json:"lastBuild,omitempty"` // hex commit, empty until the first build
	LastBuiltAt time.Time               `json:"lastBuiltAt"`
	Uploads     map[string]UploadRecord `json:"uploads"` // binary name -> last successful upload
}

// UploadRecord is the last successful upload of one binary.
type UploadRecord struct {
	Commit     string    `json:"commit"`
	FileName   string    `json:"fileName"`
	Digest     string    `json:"digest,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type DatabaseIfc interface {
	// in-memory databases persist asynchronously; this queues a save
	TriggerDataPersist()
	Subscribe(callback func(BuildEvent))
	LastBuild(targetID string) goGitPlumbing.Hash
	SetLastBuild(targetID string, commit goGitPlumbing.Hash)
	RecordUpload(targetID, binary string, commit goGitPlumbing.Hash, fileName, digest string)
	PendingUploads(targetID string, commit goGitPlumbing.Hash, binaries []string) []string
	ArtifactsCommit(repoPath string) goGitPlumbing.Hash
	SetArtifactsCommit(repoPath string, commit goGitPlumbing.Hash)
	GetTarget(targetID string) (*TargetRecord, error)
	ListTargets() []*TargetRecord
	Close()
}

type Database struct {
	targets      map[string]*TargetRecord
	artifacts    map[string]string // repository path -> commit its release directory was built from
	subscribers  []func(BuildEvent)
	mu           sync.RWMutex
	subscriberMu sync.RWMutex
	log          *zap.SugaredLogger

	// for persistence, disabled when dataDir is empty
	dataDir     string
	persistChan chan struct{}
	stopPersist chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
}

type dump struct {
	Targets   map[string]*TargetRecord `json:"targets"`
	Artifacts map[string]string        `json:"artifacts"`
}

// NewDatabase returns a build-state store. With a non-empty dataDir the
// state is restored from and saved to <dataDir>/builder.state.json.
func NewDatabase(dataDir string, log *zap.SugaredLogger) (*Database, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db := &Database{
		targets:     make(map[string]*TargetRecord),
		artifacts:   make(map[string]string),
		log:         log,
		dataDir:     dataDir,
		persistChan: make(chan struct{}, 1),
		stopPersist: make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	if dataDir == "" {
		close(db.stopped)
		return db, nil
	}

	if err := db.load(); err != nil {
		return nil, types.NewAgentError(types.AgentComponentDatabase, types.AgentOperationDatabaseRead, err, false).
			WithContext("dataDir", dataDir)
	}

	go db.persistenceLoop()

	return db, nil
}

func (db *Database) TriggerDataPersist() {
	if db.dataDir == "" {
		return
	}
	select {
	case db.persistChan <- struct{}{}:
	default: // Already queued
	}
}

// Close flushes pending state and stops the persistence loop.
func (db *Database) Close() {
	db.closeOnce.Do(func() {
		if db.dataDir != "" {
			close(db.stopPersist)
		}
	})
	<-db.stopped
}

func (db *Database) persistenceLoop() {
	defer close(db.stopped)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-db.persistChan:
			db.saveAndLog()
		case <-ticker.C:
			db.saveAndLog()
		case <-db.stopPersist:
			db.saveAndLog() // Final save
			return
		}
	}
}

func (db *Database) saveAndLog() {
	if err := db.save(); err != nil {
		db.log.Warnw("Failed to persist build state",
			"error", types.NewAgentError(types.AgentComponentDatabase, types.AgentOperationDatabaseWrite, err, true))
	}
}

func (db *Database) save() error {
	db.mu.RLock()
	data, err := json.MarshalIndent(dump{Targets: db.targets, Artifacts: db.artifacts}, "", "  ")
	db.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(db.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tempFile := filepath.Join(db.dataDir, stateFileName+".tmp")
	finalFile := filepath.Join(db.dataDir, stateFileName)

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (db *Database) load() error {
	data, err := os.ReadFile(filepath.Join(db.dataDir, stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil // start fresh
	}
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	var state dump
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	for id, record := range state.Targets {
		if record.Uploads == nil {
			record.Uploads = make(map[string]UploadRecord)
		}
		db.targets[id] = record
	}
	for path, commit := range state.Artifacts {
		db.artifacts[path] = commit
	}
	return nil
}

func (db *Database) Subscribe(callback func(BuildEvent)) {
	db.subscriberMu.Lock()
	defer db.subscriberMu.Unlock()
	db.subscribers = append(db.subscribers, callback)
}

func (db *Database) notify(event BuildEvent) {
	db.subscriberMu.RLock()
	subscribers := make([]func(BuildEvent), len(db.subscribers))
	copy(subscribers, db.subscribers)
	db.subscriberMu.RUnlock()

	for _, callback := range subscribers {
		callback(event)
	}
}

// record returns the target's record, creating it. Callers hold db.mu.
func (db *Database) record(targetID string) *TargetRecord {
	record, exists := db.targets[targetID]
	if !exists {
		record = &TargetRecord{
			TargetID: targetID,
			Uploads:  make(map[string]UploadRecord),
		}
		db.targets[targetID] = record
	}
	return record
}

// LastBuild returns the last successfully built commit, or the zero hash.
func (db *Database) LastBuild(targetID string) goGitPlumbing.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	record, exists := db.targets[targetID]
	if !exists || record.LastBuild == "" {
		return goGitPlumbing.ZeroHash
	}
	return goGitPlumbing.NewHash(record.LastBuild)
}

func (db *Database) SetLastBuild(targetID string, commit goGitPlumbing.Hash) {
	now := time.Now()

	db.mu.Lock()
	record := db.record(targetID)
	record.LastBuild = commit.String()
	record.LastBuiltAt = now
	db.mu.Unlock()

	db.notify(BuildEvent{Type: EventTargetBuilt, TargetID: targetID, Commit: commit, Timestamp: now})
	db.TriggerDataPersist()
}

func (db *Database) RecordUpload(targetID, binary string, commit goGitPlumbing.Hash, fileName, digest string) {
	now := time.Now()

	db.mu.Lock()
	record := db.record(targetID)
	record.Uploads[binary] = UploadRecord{
		Commit:     commit.String(),
		FileName:   fileName,
		Digest:     digest,
		UploadedAt: now,
	}
	db.mu.Unlock()

	db.notify(BuildEvent{Type: EventBinaryUploaded, TargetID: targetID, Binary: binary, Commit: commit, Timestamp: now})
	db.TriggerDataPersist()
}

// PendingUploads returns, sorted, the binaries with no successful upload
// recorded for commit.
func (db *Database) PendingUploads(targetID string, commit goGitPlumbing.Hash, binaries []string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	want := commit.String()
	record := db.targets[targetID]

	var pending []string
	for _, binary := range binaries {
		if record != nil {
			if upload, ok := record.Uploads[binary]; ok && upload.Commit == want {
				continue
			}
		}
		pending = append(pending, binary)
	}
	sort.Strings(pending)
	return pending
}

// ArtifactsCommit returns the commit the repository's release directory
// currently reflects, or the zero hash if unknown.
func (db *Database) ArtifactsCommit(repoPath string) goGitPlumbing.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	commit, exists := db.artifacts[repoPath]
	if !exists {
		return goGitPlumbing.ZeroHash
	}
	return goGitPlumbing.NewHash(commit)
}

func (db *Database) SetArtifactsCommit(repoPath string, commit goGitPlumbing.Hash) {
	db.mu.Lock()
	if commit.IsZero() {
		delete(db.artifacts, repoPath)
	} else {
		db.artifacts[repoPath] = commit.String()
	}
	db.mu.Unlock()

	db.TriggerDataPersist()
}

func (db *Database) GetTarget(targetID string) (*TargetRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	record, exists := db.targets[targetID]
	if !exists {
		return nil, fmt.Errorf("target %s not found", targetID)
	}
	return record.clone(), nil
}

// ListTargets returns copies of every record, ordered by target id.
func (db *Database) ListTargets() []*TargetRecord {
	db.mu.RLock()
	defer db.mu.RUnlock()

	records := make([]*TargetRecord, 0, len(db.targets))
	for _, record := range db.targets {
		records = append(records, record.clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TargetID < records[j].TargetID })
	return records
}

func (r *TargetRecord) clone() *TargetRecord {
	copy := *r
	copy.Uploads = make(map[string]UploadRecord, len(r.Uploads))
	for binary, upload := range r.Uploads {
		copy.Uploads[binary] = upload
	}
	return &copy
}
