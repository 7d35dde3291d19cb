package http

import (
	"time"

	"hls-offline/internal/domain"
	"hls-offline/internal/downloader"
	"hls-offline/internal/storage"
)

type JobResponse struct {
	ID                 int64                  `json:"id"`
	SourceURL          string                 `json:"source_url"`
	State              domain.JobState        `json:"state"`
	Progress           float64                `json:"progress"`
	QualityPreference  domain.Quality         `json:"quality_preference,omitempty"`
	SelectedVariant    *domain.QualityVariant `json:"selected_variant,omitempty"`
	AudioTracks        int                    `json:"audio_tracks"`
	SegmentsDownloaded int                    `json:"segments_downloaded"`
	TotalSegments      int                    `json:"total_segments"`
	SavePath           string                 `json:"save_path"`
	LocalPlaylistPath  string                 `json:"local_playlist_path,omitempty"`
	S3Location         string                 `json:"s3_location,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	Running            bool                   `json:"running"`
	CreatedAt          string                 `json:"created_at"`
	UpdatedAt          string                 `json:"updated_at"`
	CompletedAt        *string                `json:"completed_at,omitempty"`
	UploadedAt         *string                `json:"uploaded_at,omitempty"`
	Segments           []SegmentResponse      `json:"segments,omitempty"`
}

type SegmentResponse struct {
	Index     int    `json:"index"`
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path"`
	Size      int64  `json:"size"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

// jobToResponse renders the stored job, overlaid with live progress when it is running.
func jobToResponse(job domain.DownloadJob, handle *downloader.JobHandle) JobResponse {
	resp := JobResponse{
		ID:                 job.ID,
		SourceURL:          job.SourceURL,
		State:              job.State,
		Progress:           job.Progress,
		QualityPreference:  job.QualityPreference,
		SelectedVariant:    job.SelectedVariant,
		AudioTracks:        job.AudioTrackCount,
		SegmentsDownloaded: job.SegmentsDownloaded,
		TotalSegments:      job.TotalSegments,
		SavePath:           job.SavePath,
		LocalPlaylistPath:  job.LocalPlaylistPath,
		S3Location:         job.S3Location,
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          job.UpdatedAt.Format(time.RFC3339),
	}
	if handle != nil {
		snap := handle.Snapshot()
		resp.Running = true
		resp.State = snap.State
		resp.Progress = snap.Progress
		if snap.TotalSegments > 0 {
			resp.SegmentsDownloaded = snap.SegmentsDownloaded
			resp.TotalSegments = snap.TotalSegments
		}
	}
	if job.CompletedAt != nil {
		v := job.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	if job.UploadedAt != nil {
		v := job.UploadedAt.Format(time.RFC3339)
		resp.UploadedAt = &v
	}

	for _, f := range job.Files {
		resp.Segments = append(resp.Segments, SegmentResponse{
			Index:     f.Index,
			SourceURL: f.SourceURL,
			LocalPath: f.LocalPath,
			Size:      f.Size,
		})
	}
	return resp
}
