package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository"
)

const createJobSegmentsTable = `
CREATE TABLE IF NOT EXISTS job_segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	segment_index INTEGER NOT NULL,
	source_url TEXT NOT NULL,
	local_path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_job_segments_job_id ON job_segments(job_id);
`

type JobSegmentRepository struct {
	db *sql.DB
}

func NewJobSegmentRepository(db *sql.DB) repository.JobSegmentRepository {
	return &JobSegmentRepository{db: db}
}

func (r *JobSegmentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobSegmentsTable); err != nil {
		return fmt.Errorf("create job_segments table: %w", err)
	}
	return nil
}

func (r *JobSegmentRepository) ReplaceForJob(ctx context.Context, jobID int64, segments []domain.JobSegment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_segments WHERE job_id=?`, jobID); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO job_segments (job_id, segment_index, source_url, local_path, size)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		if _, err := stmt.ExecContext(ctx, jobID, seg.Index, seg.SourceURL, seg.LocalPath, seg.Size); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *JobSegmentRepository) ListByJob(ctx context.Context, jobID int64) ([]domain.JobSegment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, job_id, segment_index, source_url, local_path, size
FROM job_segments
WHERE job_id=?
ORDER BY segment_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.JobSegment
	for rows.Next() {
		var seg domain.JobSegment
		if err := rows.Scan(&seg.ID, &seg.JobID, &seg.Index, &seg.SourceURL, &seg.LocalPath, &seg.Size); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	return segments, rows.Err()
}
