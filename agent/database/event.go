package database

import (
	"time"

	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
)

// BuildEvent is delivered to subscribers when the build state changes.
type BuildEvent struct {
	Type      EventType
	TargetID  string
	Binary    string // set for upload events
	Commit    goGitPlumbing.Hash
	Timestamp time.Time
}

type EventType string

const (
	EventTargetBuilt    EventType = "TARGET_BUILT"
	EventBinaryUploaded EventType = "BINARY_UPLOADED"
)
