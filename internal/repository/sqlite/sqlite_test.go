package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createJob(t *testing.T, repo repository.JobRepository, url string) *domain.DownloadJob {
	t.Helper()
	job := &domain.DownloadJob{
		SourceURL:         url,
		SavePath:          "/tmp/job",
		Headers:           map[string]string{"Referer": "https://site.example/"},
		QualityPreference: domain.QualityHigh,
	}
	if _, err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	job := createJob(t, repo, "https://cdn.example/master.m3u8")
	if job.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.JobStateInitialized {
		t.Errorf("expected initialized, got %s", got.State)
	}
	if got.Headers["Referer"] != "https://site.example/" {
		t.Errorf("expected headers to round trip, got %v", got.Headers)
	}
	if got.QualityPreference != domain.QualityHigh {
		t.Errorf("expected High preference, got %q", got.QualityPreference)
	}
	if got.SelectedVariant != nil {
		t.Errorf("expected no variant yet, got %+v", got.SelectedVariant)
	}

	height := 720
	if err := repo.UpdateVariant(ctx, job.ID, domain.QualityVariant{Name: "HD", URL: "https://cdn.example/720.m3u8", Height: &height}); err != nil {
		t.Fatalf("update variant: %v", err)
	}
	if err := repo.UpdateAudioTracks(ctx, job.ID, 3); err != nil {
		t.Fatalf("update audio tracks: %v", err)
	}
	if err := repo.UpdateState(ctx, job.ID, domain.JobStateDownloadingSegments, nil); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if err := repo.UpdateProgress(ctx, job.ID, 0.6, 5, 10); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	got, err = repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SelectedVariant == nil || got.SelectedVariant.Name != "HD" || got.SelectedVariant.Height == nil || *got.SelectedVariant.Height != 720 {
		t.Errorf("unexpected variant: %+v", got.SelectedVariant)
	}
	if got.AudioTrackCount != 3 {
		t.Errorf("expected 3 audio tracks, got %d", got.AudioTrackCount)
	}
	if got.Progress != 0.6 || got.SegmentsDownloaded != 5 || got.TotalSegments != 10 {
		t.Errorf("unexpected progress: %v %d/%d", got.Progress, got.SegmentsDownloaded, got.TotalSegments)
	}

	manifest := &domain.DownloadManifest{LocalPlaylistPath: "/tmp/job/playlist.m3u8", SegmentsDownloaded: 9, TotalSegments: 10}
	if err := repo.MarkCompleted(ctx, job.ID, manifest, time.Now()); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := repo.MarkUploaded(ctx, job.ID, "s3://bucket/prefix/job-1", time.Now()); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}

	got, err = repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.JobStateCompleted || got.Progress != 1 {
		t.Errorf("expected completed at 1.0, got %s at %v", got.State, got.Progress)
	}
	if got.CompletedAt == nil || got.UploadedAt == nil {
		t.Error("expected completion and upload times")
	}
	if got.LocalPlaylistPath != manifest.LocalPlaylistPath || got.SegmentsDownloaded != 9 {
		t.Errorf("manifest not applied: %+v", got)
	}
	if got.S3Location != "s3://bucket/prefix/job-1" {
		t.Errorf("expected s3 location, got %q", got.S3Location)
	}
}

func TestJobRepositoryListByStates(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	a := createJob(t, repo, "https://cdn.example/a.m3u8")
	b := createJob(t, repo, "https://cdn.example/b.m3u8")
	c := createJob(t, repo, "https://cdn.example/c.m3u8")

	msg := "boom"
	if err := repo.UpdateState(ctx, b.ID, domain.JobStateFailed, &msg); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateState(ctx, c.ID, domain.JobStateDownloadingSegments, nil); err != nil {
		t.Fatal(err)
	}

	jobs, err := repo.ListByStates(ctx, domain.JobStateInitialized, domain.JobStateDownloadingSegments)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != a.ID || jobs[1].ID != c.ID {
		t.Errorf("unexpected jobs: %+v", jobs)
	}

	none, err := repo.ListByStates(ctx)
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty result, got %v %v", none, err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID {
		t.Errorf("expected newest first, got %+v", all)
	}

	failed, err := repo.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.ErrorMessage != "boom" {
		t.Errorf("expected error message to persist, got %q", failed.ErrorMessage)
	}
}

func TestJobRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	if _, err := repo.Get(ctx, 42); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Get, got %v", err)
	}
	if err := repo.UpdateState(ctx, 42, domain.JobStateFailed, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound from UpdateState, got %v", err)
	}
	if err := repo.Delete(ctx, 42); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Delete, got %v", err)
	}
}

func TestJobSegmentRepositoryReplace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewJobRepository(db)
	segments := NewJobSegmentRepository(db)

	job := createJob(t, jobs, "https://cdn.example/master.m3u8")

	first := []domain.JobSegment{
		{Index: 2, SourceURL: "https://cdn.example/2.ts", LocalPath: "/tmp/job/segments/segment_000002.ts", Size: 20},
		{Index: 1, SourceURL: "https://cdn.example/1.ts", LocalPath: "/tmp/job/segments/segment_000001.ts", Size: 10},
	}
	if err := segments.ReplaceForJob(ctx, job.ID, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := segments.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Index != 1 || got[1].Index != 2 || got[0].JobID != job.ID {
		t.Errorf("unexpected segments: %+v", got)
	}

	if err := segments.ReplaceForJob(ctx, job.ID, first[:1]); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	got, err = segments.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Size != 20 {
		t.Errorf("expected replacement to drop old rows, got %+v", got)
	}

	if err := jobs.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete job: %v", err)
	}
	got, err = segments.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected segments removed with job, got %d", len(got))
	}
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(openTestDB(t))

	if _, err := repo.Get(ctx, "download_quality"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, v := range []string{"Low", "High"} {
		if err := repo.Set(ctx, "download_quality", v); err != nil {
			t.Fatalf("set %s: %v", v, err)
		}
	}
	v, err := repo.Get(ctx, "download_quality")
	if err != nil {
		t.Fatal(err)
	}
	if v != "High" {
		t.Errorf("expected High, got %q", v)
	}
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	user := &domain.User{Username: "alice", PasswordHash: "hash"}
	if _, err := repo.Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Create(ctx, &domain.User{Username: "alice", PasswordHash: "other"}); !errors.Is(err, repository.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	byName, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	byID, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != byID.ID || byID.PasswordHash != "hash" {
		t.Errorf("lookups disagree: %+v vs %+v", byName, byID)
	}
	if _, err := repo.GetByUsername(ctx, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if byID.LastLoginAt != nil {
		t.Errorf("expected no login yet, got %v", byID.LastLoginAt)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.RecordLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("record login: %v", err)
	}
	byID, err = repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byID.LastLoginAt == nil || !byID.LastLoginAt.Equal(at) {
		t.Errorf("expected last login %v, got %v", at, byID.LastLoginAt)
	}
	if err := repo.RecordLogin(ctx, 999, at); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing user, got %v", err)
	}
}
