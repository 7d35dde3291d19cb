package downloader

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository/sqlite"
	"hls-offline/internal/service"
	"hls-offline/internal/storage"
)

type fakeRunner struct {
	run func(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error)

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return f.run(ctx, req, cb)
}

func completingRun(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
	height := 720
	cb.OnState(domain.JobStateFetchingMaster)
	cb.OnProgress(0.1)
	cb.OnVariant(domain.QualityVariant{Name: "720p (HD)", URL: "https://cdn.example/hd.m3u8", Height: &height})
	cb.OnAudioTracks([]domain.AudioTrack{
		{ID: "default", Name: "Default", Language: "unknown"},
		{ID: "aud-en", Name: "English", Language: "en"},
	})
	cb.OnState(domain.JobStateDownloadingSegments)
	cb.OnSegmentProgress(domain.SegmentProgress{SegmentsDownloaded: 2, TotalSegments: 2, Progress: 1})
	cb.OnSegments([]domain.DownloadedSegment{
		{Index: 1, SourceURL: "https://cdn.example/1.ts", LocalPath: req.SavePath + "/segments/segment_000001.ts", Bytes: 10},
		{Index: 2, SourceURL: "https://cdn.example/2.ts", LocalPath: req.SavePath + "/segments/segment_000002.ts", Bytes: 20},
	})
	cb.OnProgress(1)
	cb.OnState(domain.JobStateCompleted)
	return &domain.DownloadManifest{
		OriginalURL:         req.SourceURL,
		SelectedQualityName: "720p (HD)",
		LocalPlaylistPath:   req.SavePath + "/playlist.m3u8",
		SegmentsDownloaded:  2,
		TotalSegments:       2,
		DownloadedAt:        time.Now(),
	}, nil
}

type fakeStorage struct {
	mu       sync.Mutex
	uploaded []storage.UploadOptions
	err      error
}

func (f *fakeStorage) UploadDirectory(_ context.Context, _ string, opts storage.UploadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploaded = append(f.uploaded, opts)
	return "s3://" + opts.Bucket + "/" + opts.KeyPrefix, nil
}

func (f *fakeStorage) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) DeletePrefix(context.Context, string, string) error {
	return nil
}

func (f *fakeStorage) GetObjectURL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}

func newJobService(t *testing.T) service.JobService {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.Migrate(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return service.NewJobService(sqlite.NewJobRepository(db), sqlite.NewJobSegmentRepository(db))
}

func startManager(t *testing.T, cfg Config, runner Runner, jobs service.JobService, store storage.Service) Manager {
	t.Helper()
	logger, _ := nullLogger()
	cfg.Logger = logger
	if cfg.DownloadRoot == "" {
		cfg.DownloadRoot = t.TempDir()
	}
	m := NewManager(cfg, runner, jobs, store)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func createTestJob(t *testing.T, jobs service.JobService) *domain.DownloadJob {
	t.Helper()
	job, err := jobs.CreateJob(context.Background(), service.CreateJobInput{
		SourceURL: "https://cdn.example/master.m3u8",
		DataRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func waitDone(t *testing.T, h *JobHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestManagerRunsJobToCompletion(t *testing.T) {
	jobs := newJobService(t)
	m := startManager(t, Config{}, &fakeRunner{run: completingRun}, jobs, nil)
	job := createTestJob(t, jobs)

	handle, err := m.Enqueue(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, handle)

	manifest, runErr := handle.Result()
	if runErr != nil || manifest == nil {
		t.Fatalf("expected manifest, got %v, %v", manifest, runErr)
	}
	snap := handle.Snapshot()
	if snap.State != domain.JobStateCompleted || snap.Progress != 1 || snap.SegmentsDownloaded != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if _, ok := m.Handle(job.ID); ok {
		t.Error("expected finished job to leave the active set")
	}

	stored, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.JobStateCompleted || stored.Progress != 1 {
		t.Errorf("expected completed row, got %s at %v", stored.State, stored.Progress)
	}
	if stored.SelectedVariant == nil || stored.SelectedVariant.Name != "720p (HD)" {
		t.Errorf("expected variant to be stored, got %+v", stored.SelectedVariant)
	}
	if stored.AudioTrackCount != 2 {
		t.Errorf("expected 2 audio tracks to be stored, got %d", stored.AudioTrackCount)
	}
	if len(stored.Files) != 2 {
		t.Errorf("expected two segment records, got %d", len(stored.Files))
	}
	if stored.LocalPlaylistPath != manifest.LocalPlaylistPath {
		t.Errorf("expected playlist path %s, got %s", manifest.LocalPlaylistPath, stored.LocalPlaylistPath)
	}
}

func TestManagerPersistsFailure(t *testing.T) {
	jobs := newJobService(t)
	runner := &fakeRunner{run: func(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
		cb.OnState(domain.JobStateDownloadingSegments)
		err := &JobError{Phase: domain.JobStateDownloadingSegments, Err: ErrNoSegmentsDownloaded}
		cb.OnState(domain.JobStateFailed)
		return nil, err
	}}
	m := startManager(t, Config{}, runner, jobs, nil)
	job := createTestJob(t, jobs)

	handle, err := m.Enqueue(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, handle)

	if _, runErr := handle.Result(); !errors.Is(runErr, ErrNoSegmentsDownloaded) {
		t.Errorf("expected ErrNoSegmentsDownloaded, got %v", runErr)
	}
	stored, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.JobStateFailed {
		t.Errorf("expected failed, got %s", stored.State)
	}
	if !strings.Contains(stored.ErrorMessage, "no segments downloaded") {
		t.Errorf("expected error message to be stored, got %q", stored.ErrorMessage)
	}

	if _, err := m.Enqueue(context.Background(), job.ID); err == nil {
		t.Error("expected enqueue of a failed job to be rejected")
	}
}

func TestManagerCancel(t *testing.T) {
	jobs := newJobService(t)
	started := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
		cb.OnState(domain.JobStateDownloadingSegments)
		close(started)
		<-ctx.Done()
		return nil, &JobError{Phase: domain.JobStateDownloadingSegments, Err: ErrCancelled}
	}}
	m := startManager(t, Config{}, runner, jobs, nil)
	job := createTestJob(t, jobs)

	handle, err := m.Enqueue(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitDone(t, handle)

	stored, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.JobStateFailed || !strings.Contains(stored.ErrorMessage, "cancelled") {
		t.Errorf("expected cancelled failure, got %s %q", stored.State, stored.ErrorMessage)
	}

	if err := m.Cancel(ctx, 9999); err != nil {
		t.Errorf("cancelling an unknown job should be a no-op, got %v", err)
	}
}

func TestManagerBoundsConcurrency(t *testing.T) {
	jobs := newJobService(t)
	runner := &fakeRunner{run: func(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
		time.Sleep(20 * time.Millisecond)
		return completingRun(ctx, req, cb)
	}}
	m := startManager(t, Config{MaxConcurrent: 2}, runner, jobs, nil)

	var handles []*JobHandle
	for range 5 {
		h, err := m.Enqueue(context.Background(), createTestJob(t, jobs).ID)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		waitDone(t, h)
	}
	if peak := runner.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestManagerResume(t *testing.T) {
	jobs := newJobService(t)
	ctx := context.Background()

	interrupted := createTestJob(t, jobs)
	if err := jobs.UpdateState(ctx, interrupted.ID, domain.JobStateDownloadingSegments, nil); err != nil {
		t.Fatal(err)
	}
	failed := createTestJob(t, jobs)
	msg := "boom"
	if err := jobs.UpdateState(ctx, failed.ID, domain.JobStateFailed, &msg); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var ran []int64
	runner := &fakeRunner{run: func(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
		mu.Lock()
		ran = append(ran, req.JobID)
		mu.Unlock()
		return completingRun(ctx, req, cb)
	}}
	m := startManager(t, Config{}, runner, jobs, nil)

	if err := m.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if h, ok := m.Handle(interrupted.ID); ok {
		waitDone(t, h)
	}
	m.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != interrupted.ID {
		t.Errorf("expected only job %d to resume, ran %v", interrupted.ID, ran)
	}
}

func TestManagerUploadsCompletedJob(t *testing.T) {
	jobs := newJobService(t)
	store := &fakeStorage{}
	m := startManager(t, Config{
		Upload:        true,
		UploadOptions: storage.UploadOptions{Bucket: "media", KeyPrefix: "/hls-downloads/"},
	}, &fakeRunner{run: completingRun}, jobs, store)
	job := createTestJob(t, jobs)

	handle, err := m.Enqueue(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, handle)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.uploaded) != 1 {
		t.Fatalf("expected one upload, got %d", len(store.uploaded))
	}
	wantPrefix := "hls-downloads/job-" + strconv.FormatInt(job.ID, 10)
	if store.uploaded[0].KeyPrefix != wantPrefix {
		t.Errorf("expected key prefix %s, got %s", wantPrefix, store.uploaded[0].KeyPrefix)
	}

	stored, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.S3Location != "s3://media/"+wantPrefix || stored.UploadedAt == nil {
		t.Errorf("expected upload to be recorded, got %q %v", stored.S3Location, stored.UploadedAt)
	}
	if stored.State != domain.JobStateCompleted {
		t.Errorf("expected job to stay completed, got %s", stored.State)
	}
}

func TestManagerUploadFailureKeepsJobCompleted(t *testing.T) {
	jobs := newJobService(t)
	store := &fakeStorage{err: errors.New("access denied")}
	m := startManager(t, Config{
		Upload:        true,
		UploadOptions: storage.UploadOptions{Bucket: "media"},
	}, &fakeRunner{run: completingRun}, jobs, store)
	job := createTestJob(t, jobs)

	handle, err := m.Enqueue(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, handle)

	stored, err := jobs.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != domain.JobStateCompleted || stored.UploadedAt != nil {
		t.Errorf("expected completed without upload, got %s %v", stored.State, stored.UploadedAt)
	}
}
