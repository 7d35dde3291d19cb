package downloader

import (
	"context"
	"sync"

	"hls-offline/internal/domain"
)

// JobHandle is the live view of a running job. It replaces any process-wide progress map:
// callers get a handle from the Manager and observe or cancel that job only.
type JobHandle struct {
	ID int64

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	state    domain.JobState
	progress float64
	segments domain.SegmentProgress
	manifest *domain.DownloadManifest
	err      error
}

// JobSnapshot is a point-in-time copy of a handle's progress.
type JobSnapshot struct {
	ID                 int64           `json:"id"`
	State              domain.JobState `json:"state"`
	Progress           float64         `json:"progress"`
	SegmentsDownloaded int             `json:"segmentsDownloaded"`
	TotalSegments      int             `json:"totalSegments"`
}

func newJobHandle(id int64, state domain.JobState, cancel context.CancelFunc) *JobHandle {
	return &JobHandle{
		ID:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  state,
	}
}

// Done is closed once the job has stopped, whatever the outcome.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel asks the job to stop. It does not wait; use Done for that.
func (h *JobHandle) Cancel() {
	h.cancel()
}

func (h *JobHandle) Snapshot() JobSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return JobSnapshot{
		ID:                 h.ID,
		State:              h.state,
		Progress:           h.progress,
		SegmentsDownloaded: h.segments.SegmentsDownloaded,
		TotalSegments:      h.segments.TotalSegments,
	}
}

// Result returns the manifest or the failure of a finished job. Both are nil while it runs.
func (h *JobHandle) Result() (*domain.DownloadManifest, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manifest, h.err
}

func (h *JobHandle) setState(state domain.JobState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (h *JobHandle) setProgress(p float64) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

func (h *JobHandle) setSegments(p domain.SegmentProgress) {
	h.mu.Lock()
	h.segments = p
	h.mu.Unlock()
}

func (h *JobHandle) finish(manifest *domain.DownloadManifest, err error) {
	h.mu.Lock()
	h.manifest = manifest
	h.err = err
	if manifest != nil {
		h.segments.SegmentsDownloaded = manifest.SegmentsDownloaded
		h.segments.TotalSegments = manifest.TotalSegments
	}
	h.mu.Unlock()
}
