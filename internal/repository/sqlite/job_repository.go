package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_url TEXT NOT NULL,
	save_path TEXT NOT NULL,
	headers TEXT NOT NULL DEFAULT '{}',
	quality_preference TEXT NOT NULL DEFAULT '',
	selected_quality_name TEXT NOT NULL DEFAULT '',
	selected_quality_url TEXT NOT NULL DEFAULT '',
	selected_height INTEGER NULL,
	audio_tracks INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	segments_downloaded INTEGER NOT NULL DEFAULT 0,
	total_segments INTEGER NOT NULL DEFAULT 0,
	local_playlist_path TEXT NOT NULL DEFAULT '',
	s3_location TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL,
	uploaded_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

const selectJobColumns = `
SELECT id, source_url, save_path, headers, quality_preference, selected_quality_name, selected_quality_url, selected_height, audio_tracks, state, progress, segments_downloaded, total_segments, local_playlist_path, s3_location, error_message, created_at, updated_at, completed_at, uploaded_at
FROM jobs`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.DownloadJob) (int64, error) {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.State == "" {
		job.State = domain.JobStateInitialized
	}

	headers, err := encodeHeaders(job.Headers)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (source_url, save_path, headers, quality_preference, state, progress, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.SourceURL,
		job.SavePath,
		headers,
		string(job.QualityPreference),
		string(job.State),
		job.Progress,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	job.ID = id
	return id, nil
}

func (r *JobRepository) UpdateState(ctx context.Context, id int64, state domain.JobState, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	return r.exec(ctx, "update job state", `
UPDATE jobs
SET state=?, error_message=?, updated_at=?
WHERE id=?`,
		string(state),
		msg,
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) UpdateAudioTracks(ctx context.Context, id int64, count int) error {
	return r.exec(ctx, "update job audio tracks", `
UPDATE jobs
SET audio_tracks=?, updated_at=?
WHERE id=?`,
		count,
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, progress float64, segmentsDownloaded, totalSegments int) error {
	return r.exec(ctx, "update job progress", `
UPDATE jobs
SET progress=?, segments_downloaded=?, total_segments=?, updated_at=?
WHERE id=?`,
		progress,
		segmentsDownloaded,
		totalSegments,
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) UpdateVariant(ctx context.Context, id int64, variant domain.QualityVariant) error {
	var height any
	if variant.Height != nil {
		height = *variant.Height
	}
	return r.exec(ctx, "update job variant", `
UPDATE jobs
SET selected_quality_name=?, selected_quality_url=?, selected_height=?, updated_at=?
WHERE id=?`,
		variant.Name,
		variant.URL,
		height,
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id int64, manifest *domain.DownloadManifest, completedAt time.Time) error {
	return r.exec(ctx, "mark completed", `
UPDATE jobs
SET state=?, progress=1, segments_downloaded=?, total_segments=?, local_playlist_path=?, error_message='', completed_at=?, updated_at=?
WHERE id=?`,
		string(domain.JobStateCompleted),
		manifest.SegmentsDownloaded,
		manifest.TotalSegments,
		manifest.LocalPlaylistPath,
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) MarkUploaded(ctx context.Context, id int64, s3Location string, uploadedAt time.Time) error {
	return r.exec(ctx, "mark uploaded", `
UPDATE jobs
SET s3_location=?, uploaded_at=?, updated_at=?
WHERE id=?`,
		s3Location,
		uploadedAt.UTC(),
		time.Now().UTC(),
		id,
	)
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_segments WHERE job_id=?`, id); err != nil {
		return fmt.Errorf("delete job segments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("job %d: %w", id, repository.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job delete: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id int64) (*domain.DownloadJob, error) {
	row := r.db.QueryRowContext(ctx, selectJobColumns+`
WHERE id=?`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context) ([]domain.DownloadJob, error) {
	rows, err := r.db.QueryContext(ctx, selectJobColumns+`
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepository) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.DownloadJob, error) {
	if len(states) == 0 {
		return []domain.DownloadJob{}, nil
	}

	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, state := range states {
		placeholders[i] = "?"
		args[i] = string(state)
	}

	query := fmt.Sprintf(`%s
WHERE state IN (%s)
ORDER BY id ASC`, selectJobColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs by state: %w", err)
	}
	return collectJobs(rows)
}

// exec runs an update against a single job and reports a missing row as ErrNotFound.
func (r *JobRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func collectJobs(rows *sql.Rows) ([]domain.DownloadJob, error) {
	defer rows.Close()

	var jobs []domain.DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.DownloadJob, error) {
	var (
		job         domain.DownloadJob
		headers     string
		quality     string
		variantName string
		variantURL  string
		height      sql.NullInt64
		state       string
		createdAt   time.Time
		updatedAt   time.Time
		completedAt sql.NullTime
		uploadedAt  sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.SourceURL,
		&job.SavePath,
		&headers,
		&quality,
		&variantName,
		&variantURL,
		&height,
		&job.AudioTrackCount,
		&state,
		&job.Progress,
		&job.SegmentsDownloaded,
		&job.TotalSegments,
		&job.LocalPlaylistPath,
		&job.S3Location,
		&job.ErrorMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
		&uploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(headers), &job.Headers); err != nil {
		return nil, fmt.Errorf("decode job headers: %w", err)
	}
	job.QualityPreference = domain.Quality(quality)
	if variantName != "" {
		variant := domain.QualityVariant{Name: variantName, URL: variantURL}
		if height.Valid {
			h := int(height.Int64)
			variant.Height = &h
		}
		job.SelectedVariant = &variant
	}
	job.State = domain.JobState(state)
	job.CreatedAt = createdAt.Local()
	job.UpdatedAt = updatedAt.Local()
	if completedAt.Valid {
		t := completedAt.Time.Local()
		job.CompletedAt = &t
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time.Local()
		job.UploadedAt = &t
	}

	return &job, nil
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encode job headers: %w", err)
	}
	return string(data), nil
}
