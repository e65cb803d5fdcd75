package build

import (
	"time"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// BundleResult is the immutable output of one successful build.
type BundleResult struct {
	Source     []byte
	SourceMap  []byte
	Metafile   []byte
	BundledAt  time.Time
	RevisionID string
	Assets     []plugins.Asset
	Warnings   []errors.Diagnostic
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Trigger records why a build started.
type Trigger string

const (
	TriggerRequest Trigger = "request"
	TriggerForce   Trigger = "force"
	TriggerWatch   Trigger = "watch"
)

// BuildEvent describes a completed build attempt.
type BuildEvent struct {
	Target     Target
	Trigger    Trigger
	Result     *BundleResult
	Err        error
	BuildCount int
	Duration   time.Duration
}

// BuildCallback is called when a build completes
type BuildCallback func(event BuildEvent)

// TaskStats is a snapshot of one task.
type TaskStats struct {
	Target     Target
	Status     Status
	BuildCount int
	RevisionID string
	BundledAt  time.Time
	LastError  string
}
