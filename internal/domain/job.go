package domain

import "time"

type JobState string

const (
	JobStateInitialized           JobState = "initialized"
	JobStateFetchingMaster        JobState = "fetching_master"
	JobStateSelectingQuality      JobState = "selecting_quality"
	JobStateFetchingMediaPlaylist JobState = "fetching_media_playlist"
	JobStateDownloadingKey        JobState = "downloading_key"
	JobStateDownloadingSegments   JobState = "downloading_segments"
	JobStateFinalizing            JobState = "finalizing"
	JobStateCompleted             JobState = "completed"
	JobStateFailed                JobState = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// DownloadJob represents one HLS offline download tracked by the system.
type DownloadJob struct {
	ID                 int64
	SourceURL          string
	SavePath           string
	Headers            map[string]string
	QualityPreference  Quality
	SelectedVariant    *QualityVariant
	EncryptionKey      *EncryptionKeyInfo
	AudioTracks        []AudioTrack
	AudioTrackCount    int
	Segments           []Segment
	State              JobState
	Progress           float64
	SegmentsDownloaded int
	TotalSegments      int
	LocalPlaylistPath  string
	S3Location         string
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	UploadedAt         *time.Time
	Files              []JobSegment
}

// JobSegment is the persisted record of a segment file written for a job.
type JobSegment struct {
	ID        int64
	JobID     int64
	Index     int
	SourceURL string
	LocalPath string
	Size      int64
}

// DownloadManifest is the durable output of a completed job, stored as playlist_info.json.
type DownloadManifest struct {
	OriginalURL         string    `json:"originalUrl"`
	SelectedQualityName string    `json:"selectedQualityName"`
	SelectedQualityURL  string    `json:"selectedQualityUrl"`
	LocalPlaylistPath   string    `json:"localPlaylistPath"`
	SegmentsDownloaded  int       `json:"segmentsDownloaded"`
	TotalSegments       int       `json:"totalSegments"`
	DownloadedAt        time.Time `json:"downloadedAt"`
}

// Partial reports whether some segments were lost during the download.
func (m DownloadManifest) Partial() bool {
	return m.SegmentsDownloaded < m.TotalSegments
}

// SegmentProgress is reported after every completed batch of segment downloads.
type SegmentProgress struct {
	SegmentsDownloaded int     `json:"segmentsDownloaded"`
	TotalSegments      int     `json:"totalSegments"`
	Progress           float64 `json:"progress"`
}
