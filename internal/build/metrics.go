package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks build performance
type BuildMetrics struct {
	TotalBuilds       int64
	SuccessfulBuilds  int64
	FailedBuilds      int64
	TimedOutBuilds    int64
	CollapsedTriggers int64
	AverageDuration   time.Duration
	TotalDuration     time.Duration
	LastBuildAt       time.Time
	mutex             sync.RWMutex
}

// MetricsSnapshot is a lock-free copy of BuildMetrics for reporting.
type MetricsSnapshot struct {
	TotalBuilds       int64     `json:"total_builds"`
	SuccessfulBuilds  int64     `json:"successful_builds"`
	FailedBuilds      int64     `json:"failed_builds"`
	TimedOutBuilds    int64     `json:"timed_out_builds"`
	CollapsedTriggers int64     `json:"collapsed_triggers"`
	AverageDurationMs int64     `json:"average_duration_ms"`
	TotalDurationMs   int64     `json:"total_duration_ms"`
	SuccessRate       float64   `json:"success_rate"`
	LastBuildAt       time.Time `json:"last_build_at,omitempty"`
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a build result in the metrics
func (bm *BuildMetrics) RecordBuild(result BuildResult) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += result.Duration()
	bm.LastBuildAt = result.FinishedAt

	if result.Status == StatusSuccess {
		bm.SuccessfulBuilds++
	} else {
		bm.FailedBuilds++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
}

// RecordTimeout counts a render that exceeded its deadline.
func (bm *BuildMetrics) RecordTimeout() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	bm.TimedOutBuilds++
}

// RecordCollapsed counts a trigger merged into an already owed run.
func (bm *BuildMetrics) RecordCollapsed() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	bm.CollapsedTriggers++
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() MetricsSnapshot {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	snap := MetricsSnapshot{
		TotalBuilds:       bm.TotalBuilds,
		SuccessfulBuilds:  bm.SuccessfulBuilds,
		FailedBuilds:      bm.FailedBuilds,
		TimedOutBuilds:    bm.TimedOutBuilds,
		CollapsedTriggers: bm.CollapsedTriggers,
		AverageDurationMs: bm.AverageDuration.Milliseconds(),
		TotalDurationMs:   bm.TotalDuration.Milliseconds(),
		LastBuildAt:       bm.LastBuildAt,
	}
	if bm.TotalBuilds > 0 {
		snap.SuccessRate = float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100.0
	}
	return snap
}

// Reset resets all metrics
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds = 0
	bm.SuccessfulBuilds = 0
	bm.FailedBuilds = 0
	bm.TimedOutBuilds = 0
	bm.CollapsedTriggers = 0
	bm.AverageDuration = 0
	bm.TotalDuration = 0
	bm.LastBuildAt = time.Time{}
}
