package build

import (
	"sync"
	"time"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
)

// BuildMetrics tracks build outcomes across all targets
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	EmptyBuilds      int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	mutex            sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a completed build attempt
func (bm *BuildMetrics) RecordBuild(event BuildEvent) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += event.Duration

	switch {
	case event.Err == nil:
		bm.SuccessfulBuilds++
	case errors.IsEmptyOutput(event.Err):
		bm.EmptyBuilds++
	default:
		bm.FailedBuilds++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	// Copy without the mutex
	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		FailedBuilds:     bm.FailedBuilds,
		EmptyBuilds:      bm.EmptyBuilds,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
	}
}

// GetSuccessRate returns the share of successful builds as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalBuilds == 0 {
		return 0
	}
	return float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100
}
