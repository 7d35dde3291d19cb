package repository

import (
	"context"
	"errors"
	"time"

	"hls-offline/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// JobRepository exposes persistence operations for DownloadJob aggregates.
type JobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.DownloadJob) (int64, error)
	UpdateState(ctx context.Context, id int64, state domain.JobState, errorMessage *string) error
	UpdateProgress(ctx context.Context, id int64, progress float64, segmentsDownloaded, totalSegments int) error
	UpdateVariant(ctx context.Context, id int64, variant domain.QualityVariant) error
	UpdateAudioTracks(ctx context.Context, id int64, count int) error
	MarkCompleted(ctx context.Context, id int64, manifest *domain.DownloadManifest, completedAt time.Time) error
	MarkUploaded(ctx context.Context, id int64, s3Location string, uploadedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.DownloadJob, error)
	List(ctx context.Context) ([]domain.DownloadJob, error)
	ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.DownloadJob, error)
}

// JobSegmentRepository manages the records of segment files written for a job.
type JobSegmentRepository interface {
	Init(ctx context.Context) error
	ReplaceForJob(ctx context.Context, jobID int64, segments []domain.JobSegment) error
	ListByJob(ctx context.Context, jobID int64) ([]domain.JobSegment, error)
}

// SettingsRepository is a small string key/value store.
type SettingsRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
