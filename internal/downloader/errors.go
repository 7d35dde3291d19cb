package downloader

import (
	"errors"
	"fmt"

	"hls-offline/internal/domain"
	"hls-offline/internal/hls"
)

var (
	// ErrNoSegmentsDownloaded is returned when every segment of a non-empty list failed.
	ErrNoSegmentsDownloaded = errors.New("no segments downloaded")
	// ErrCancelled is returned once the job's context is cancelled. Files already written stay on disk.
	ErrCancelled = errors.New("download cancelled")
)

// KeyDownloadError reports a failed encryption key fetch. The job continues without the key.
type KeyDownloadError struct {
	URI string
	Err error
}

func (e *KeyDownloadError) Error() string {
	return fmt.Sprintf("download key %s: %v", e.URI, e.Err)
}

func (e *KeyDownloadError) Unwrap() error {
	return e.Err
}

// JobError is a fatal job failure annotated with the phase it happened in.
type JobError struct {
	Phase domain.JobState
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status behind err, or 0 when there is none.
func StatusCode(err error) int {
	var netErr *hls.NetworkError
	if errors.As(err, &netErr) {
		return netErr.StatusCode
	}
	return 0
}

// FailedPhase returns the phase a job failed in, or "" for errors not raised by a job.
func FailedPhase(err error) domain.JobState {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Phase
	}
	return ""
}
