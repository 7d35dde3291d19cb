package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository"
)

// ErrInvalidSourceURL is returned for playlist URLs that are not absolute http(s) URLs.
var ErrInvalidSourceURL = errors.New("source url must be an absolute http(s) url")

// CreateJobInput carries a new download request.
type CreateJobInput struct {
	SourceURL string
	Headers   map[string]string
	Quality   string
	DataRoot  string
}

// JobService coordinates job level operations backed by repositories.
type JobService interface {
	CreateJob(ctx context.Context, in CreateJobInput) (*domain.DownloadJob, error)
	GetJob(ctx context.Context, id int64) (*domain.DownloadJob, error)
	ListJobs(ctx context.Context) ([]domain.DownloadJob, error)
	ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.DownloadJob, error)
	UpdateState(ctx context.Context, id int64, state domain.JobState, errMsg *string) error
	UpdateProgress(ctx context.Context, id int64, progress float64, segmentsDownloaded, totalSegments int) error
	UpdateVariant(ctx context.Context, id int64, variant domain.QualityVariant) error
	UpdateAudioTracks(ctx context.Context, id int64, count int) error
	ReplaceSegments(ctx context.Context, id int64, segments []domain.DownloadedSegment) error
	MarkCompleted(ctx context.Context, id int64, manifest *domain.DownloadManifest) error
	MarkUploaded(ctx context.Context, id int64, s3Location string) error
	DeleteJob(ctx context.Context, id int64) error
}

type jobService struct {
	jobs     repository.JobRepository
	segments repository.JobSegmentRepository
}

func NewJobService(jobs repository.JobRepository, segments repository.JobSegmentRepository) JobService {
	return &jobService{
		jobs:     jobs,
		segments: segments,
	}
}

func (s *jobService) CreateJob(ctx context.Context, in CreateJobInput) (*domain.DownloadJob, error) {
	sourceURL := strings.TrimSpace(in.SourceURL)
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidSourceURL
	}

	quality := domain.Quality(strings.TrimSpace(in.Quality))
	if q, ok := domain.ParseQuality(in.Quality); ok {
		quality = q
	}

	job := &domain.DownloadJob{
		SourceURL:         sourceURL,
		SavePath:          filepath.Join(in.DataRoot, fmt.Sprintf("job-%s", uuid.NewString())),
		Headers:           in.Headers,
		QualityPreference: quality,
		State:             domain.JobStateInitialized,
	}

	if _, err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, id int64) (*domain.DownloadJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.segments.ListByJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Files = files
	return job, nil
}

func (s *jobService) ListJobs(ctx context.Context) ([]domain.DownloadJob, error) {
	return s.jobs.List(ctx)
}

func (s *jobService) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.DownloadJob, error) {
	return s.jobs.ListByStates(ctx, states...)
}

func (s *jobService) UpdateState(ctx context.Context, id int64, state domain.JobState, errMsg *string) error {
	return s.jobs.UpdateState(ctx, id, state, errMsg)
}

func (s *jobService) UpdateProgress(ctx context.Context, id int64, progress float64, segmentsDownloaded, totalSegments int) error {
	return s.jobs.UpdateProgress(ctx, id, progress, segmentsDownloaded, totalSegments)
}

func (s *jobService) UpdateVariant(ctx context.Context, id int64, variant domain.QualityVariant) error {
	return s.jobs.UpdateVariant(ctx, id, variant)
}

func (s *jobService) UpdateAudioTracks(ctx context.Context, id int64, count int) error {
	return s.jobs.UpdateAudioTracks(ctx, id, count)
}

func (s *jobService) ReplaceSegments(ctx context.Context, id int64, segments []domain.DownloadedSegment) error {
	records := make([]domain.JobSegment, len(segments))
	for i, seg := range segments {
		records[i] = domain.JobSegment{
			JobID:     id,
			Index:     seg.Index,
			SourceURL: seg.SourceURL,
			LocalPath: seg.LocalPath,
			Size:      seg.Bytes,
		}
	}
	return s.segments.ReplaceForJob(ctx, id, records)
}

func (s *jobService) MarkCompleted(ctx context.Context, id int64, manifest *domain.DownloadManifest) error {
	completedAt := manifest.DownloadedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return s.jobs.MarkCompleted(ctx, id, manifest, completedAt)
}

func (s *jobService) MarkUploaded(ctx context.Context, id int64, s3Location string) error {
	return s.jobs.MarkUploaded(ctx, id, s3Location, time.Now())
}

func (s *jobService) DeleteJob(ctx context.Context, id int64) error {
	return s.jobs.Delete(ctx, id)
}
