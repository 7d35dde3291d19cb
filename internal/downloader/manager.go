package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hls-offline/internal/domain"
	"hls-offline/internal/metrics"
	"hls-offline/internal/service"
	"hls-offline/internal/storage"
)

// Runner executes a single job. *Orchestrator is the production implementation.
type Runner interface {
	Run(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error)
}

// Manager owns the running jobs: it bounds their concurrency, persists their progress and
// hands out JobHandles.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, jobID int64) (*JobHandle, error)
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, jobID int64) error
	Handle(jobID int64) (*JobHandle, bool)
}

type Config struct {
	DownloadRoot   string
	MaxConcurrent  int
	StatusInterval time.Duration
	Upload         bool
	UploadOptions  storage.UploadOptions
	FS             storage.FileSystem
	Logger         *logrus.Logger
}

type manager struct {
	cfg     Config
	runner  Runner
	jobs    service.JobService
	storage storage.Service

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]*JobHandle
}

func NewManager(cfg Config, runner Runner, jobs service.JobService, store storage.Service) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.FS == nil {
		cfg.FS = storage.NewLocalFS()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:     cfg,
		runner:  runner,
		jobs:    jobs,
		storage: store,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		active:  make(map[int64]*JobHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := m.cfg.FS.MkdirAll(m.cfg.DownloadRoot); err != nil {
		return fmt.Errorf("create download root: %w", err)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("download manager started, data dir: %s, max concurrent jobs: %d", m.cfg.DownloadRoot, m.cfg.MaxConcurrent)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

// Enqueue schedules a stored job. A job that is already running keeps its handle.
func (m *manager) Enqueue(ctx context.Context, jobID int64) (*JobHandle, error) {
	if m.ctx == nil {
		return nil, errors.New("download manager not started")
	}
	if handle, ok := m.Handle(jobID); ok {
		return handle, nil
	}
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, fmt.Errorf("job %d already %s", jobID, job.State)
	}
	return m.spawnJob(*job), nil
}

// Resume restarts jobs interrupted by a previous shutdown and retries pending uploads.
func (m *manager) Resume(ctx context.Context) error {
	jobs, err := m.jobs.ListByStates(ctx,
		domain.JobStateInitialized,
		domain.JobStateFetchingMaster,
		domain.JobStateSelectingQuality,
		domain.JobStateFetchingMediaPlaylist,
		domain.JobStateDownloadingKey,
		domain.JobStateDownloadingSegments,
		domain.JobStateFinalizing,
	)
	if err != nil {
		return err
	}
	for i := range jobs {
		m.cfg.Logger.WithField("job_id", jobs[i].ID).Infof("resuming job left in state %s", jobs[i].State)
		m.spawnJob(jobs[i])
	}

	if !m.uploadEnabled() {
		return nil
	}
	completed, err := m.jobs.ListByStates(ctx, domain.JobStateCompleted)
	if err != nil {
		return err
	}
	for i := range completed {
		if completed[i].UploadedAt == nil {
			m.spawnUpload(completed[i])
		}
	}
	return nil
}

func (m *manager) Handle(jobID int64) (*JobHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[jobID]
	m.mu.Unlock()
	return handle, ok
}

// Cancel stops a running job and waits for it to exit or for ctx to end.
func (m *manager) Cancel(ctx context.Context, jobID int64) error {
	handle, ok := m.Handle(jobID)
	if !ok {
		return nil
	}
	handle.Cancel()

	select {
	case <-handle.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) spawnJob(job domain.DownloadJob) *JobHandle {
	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := newJobHandle(job.ID, job.State, cancel)

	m.mu.Lock()
	if existing, ok := m.active[job.ID]; ok {
		m.mu.Unlock()
		cancel()
		return existing
	}
	m.active[job.ID] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregisterJob(job.ID)
			cancel()
			close(handle.done)
		}()
		select {
		case <-jobCtx.Done():
			handle.finish(nil, ErrCancelled)
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.handleJob(jobCtx, handle, &job)
		}
	}()
	return handle
}

func (m *manager) spawnUpload(job domain.DownloadJob) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.uploadJob(m.ctx, &job)
		}
	}()
}

func (m *manager) unregisterJob(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) handleJob(ctx context.Context, handle *JobHandle, job *domain.DownloadJob) {
	logger := m.cfg.Logger.WithField("job_id", job.ID)
	// state written after cancellation must still reach the database
	persistCtx := context.WithoutCancel(ctx)

	metrics.JobsStartedTotal.Inc()
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	var (
		lastPersist time.Time
		segments    domain.SegmentProgress
	)
	persistProgress := func(p float64, force bool) {
		if !force && time.Since(lastPersist) < m.cfg.StatusInterval {
			return
		}
		lastPersist = time.Now()
		if err := m.jobs.UpdateProgress(persistCtx, job.ID, p, segments.SegmentsDownloaded, segments.TotalSegments); err != nil {
			logger.Warnf("update progress: %v", err)
		}
	}

	cb := Callbacks{
		OnState: func(state domain.JobState) {
			handle.setState(state)
			if state.Terminal() {
				return
			}
			if err := m.jobs.UpdateState(persistCtx, job.ID, state, nil); err != nil {
				logger.Warnf("update state: %v", err)
			}
		},
		OnProgress: func(p float64) {
			handle.setProgress(p)
			persistProgress(p, false)
		},
		OnSegmentProgress: func(p domain.SegmentProgress) {
			segments = p
			handle.setSegments(p)
		},
		OnVariant: func(v domain.QualityVariant) {
			if err := m.jobs.UpdateVariant(persistCtx, job.ID, v); err != nil {
				logger.Warnf("update variant: %v", err)
			}
		},
		OnAudioTracks: func(tracks []domain.AudioTrack) {
			if err := m.jobs.UpdateAudioTracks(persistCtx, job.ID, len(tracks)); err != nil {
				logger.Warnf("update audio tracks: %v", err)
			}
		},
		OnSegments: func(downloaded []domain.DownloadedSegment) {
			if err := m.jobs.ReplaceSegments(persistCtx, job.ID, downloaded); err != nil {
				logger.Warnf("record segments: %v", err)
			}
		},
	}

	logger.Infof("job started: %s", job.SourceURL)
	manifest, err := m.runner.Run(ctx, Request{
		JobID:     job.ID,
		SourceURL: job.SourceURL,
		SavePath:  job.SavePath,
		Headers:   job.Headers,
		Quality:   job.QualityPreference,
	}, cb)
	if err != nil {
		persistProgress(handle.Snapshot().Progress, true)
		handle.finish(nil, err)
		m.failJob(persistCtx, job.ID, err)
		return
	}

	if err := m.jobs.MarkCompleted(persistCtx, job.ID, manifest); err != nil {
		logger.Errorf("mark completed: %v", err)
	}
	handle.finish(manifest, nil)
	metrics.JobsCompletedTotal.WithLabelValues(outcome(manifest)).Inc()

	if m.uploadEnabled() {
		m.uploadJob(ctx, job)
	}
}

func outcome(manifest *domain.DownloadManifest) string {
	switch {
	case manifest.TotalSegments == 0:
		return "passthrough"
	case manifest.Partial():
		return "partial"
	default:
		return "full"
	}
}

func (m *manager) uploadEnabled() bool {
	return m.cfg.Upload && m.storage != nil && m.cfg.UploadOptions.Bucket != ""
}

// uploadJob mirrors the job directory to object storage. Failures are logged and leave the
// job completed; Resume retries them.
func (m *manager) uploadJob(ctx context.Context, job *domain.DownloadJob) {
	logger := m.cfg.Logger.WithField("job_id", job.ID)

	opts := m.cfg.UploadOptions
	opts.KeyPrefix = storage.JobKeyPrefix(opts.KeyPrefix, job.ID)
	opts.ProgressCallback = newUploadProgressLogger(logger)

	logger.Infof("upload started from %s", job.SavePath)
	dest, err := m.storage.UploadDirectory(ctx, job.SavePath, opts)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		logger.Errorf("upload: %v", err)
		return
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()

	if err := m.jobs.MarkUploaded(context.WithoutCancel(ctx), job.ID, dest); err != nil {
		logger.Errorf("mark uploaded: %v", err)
		return
	}
	logger.Infof("job uploaded to %s", dest)
}

func (m *manager) failJob(ctx context.Context, jobID int64, failErr error) {
	logger := m.cfg.Logger.WithField("job_id", jobID)
	phase := FailedPhase(failErr)
	if phase == "" {
		phase = domain.JobStateInitialized
	}
	metrics.JobsFailedTotal.WithLabelValues(string(phase)).Inc()

	msg := failErr.Error()
	if err := m.jobs.UpdateState(ctx, jobID, domain.JobStateFailed, &msg); err != nil {
		logger.Errorf("persist failure state: %v", err)
	}
	if errors.Is(failErr, ErrCancelled) {
		logger.Info(msg)
		return
	}
	logger.Error(msg)
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		logger.Infof("upload progress: %.1f%% (%s/%s)", float64(done)/float64(total)*100, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

var _ Manager = (*manager)(nil)
