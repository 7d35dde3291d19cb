package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"hls-offline/internal/domain"
	"hls-offline/internal/hls"
	"hls-offline/internal/storage"
)

const (
	PlaylistFileName = "playlist.m3u8"
	ManifestFileName = "playlist_info.json"
)

// Coarse progress reached at the end of each phase. The segment phase spans
// progressKeyDone..progressSegmentsDone.
const (
	progressMasterFetched   = 0.10
	progressQualitySelected = 0.15
	progressMediaFetched    = 0.20
	progressKeyDone         = 0.25
	progressSegmentsDone    = 0.95
	progressDone            = 1.0
)

// QualitySource supplies the stored quality preference when a request does not carry one.
type QualitySource interface {
	GetDownloadQuality(ctx context.Context) (domain.Quality, error)
}

// Request describes one download job.
type Request struct {
	JobID     int64
	SourceURL string
	SavePath  string
	Headers   map[string]string
	Quality   domain.Quality
}

// Callbacks receive job events. Any of them may be nil. They are called from the job's
// goroutine, never concurrently.
type Callbacks struct {
	OnState           func(domain.JobState)
	OnProgress        func(float64)
	OnSegmentProgress func(domain.SegmentProgress)
	OnVariant         func(domain.QualityVariant)
	OnAudioTracks     func([]domain.AudioTrack)
	OnSegments        func([]domain.DownloadedSegment)
}

type OrchestratorConfig struct {
	BatchSize int
	Logger    *logrus.Logger
}

// Orchestrator runs download jobs end to end: playlists, quality, key, segments, rewrite.
type Orchestrator struct {
	cfg       OrchestratorConfig
	fetcher   *hls.Fetcher
	segments  *SegmentDownloader
	fs        storage.FileSystem
	qualities QualitySource
}

func NewOrchestrator(cfg OrchestratorConfig, fetcher *hls.Fetcher, fs storage.FileSystem, qualities QualitySource) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		segments:  NewSegmentDownloader(fetcher, fs, cfg.Logger),
		fs:        fs,
		qualities: qualities,
	}
}

// Run executes one job. On success the manifest has been written next to the playlist;
// on failure the error is a *JobError and no manifest exists.
func (o *Orchestrator) Run(ctx context.Context, req Request, cb Callbacks) (*domain.DownloadManifest, error) {
	logger := o.cfg.Logger.WithFields(logrus.Fields{"job_id": req.JobID, "source": req.SourceURL})
	r := &run{
		o:      o,
		ctx:    ctx,
		cb:     cb,
		logger: logger,
		segs:   o.segments.WithLogger(logger),
		job: &domain.DownloadJob{
			ID:                req.JobID,
			SourceURL:         req.SourceURL,
			SavePath:          req.SavePath,
			Headers:           req.Headers,
			QualityPreference: req.Quality,
			State:             domain.JobStateInitialized,
		},
	}

	manifest, err := r.execute()
	if err != nil {
		jobErr := r.wrap(err)
		r.job.ErrorMessage = jobErr.Error()
		r.transition(domain.JobStateFailed)
		return nil, jobErr
	}
	return manifest, nil
}

type run struct {
	o      *Orchestrator
	ctx    context.Context
	cb     Callbacks
	logger *logrus.Entry
	segs   *SegmentDownloader
	job    *domain.DownloadJob
}

func (r *run) execute() (*domain.DownloadManifest, error) {
	ctx, job := r.ctx, r.job

	if err := r.o.fs.MkdirAll(job.SavePath); err != nil {
		return nil, err
	}

	r.transition(domain.JobStateFetchingMaster)
	master, err := r.o.fetcher.FetchPlaylist(ctx, job.SourceURL, job.Headers)
	if err != nil {
		return nil, err
	}
	r.logger.Debugf("fetched %s playlist", master.Kind)
	r.progress(progressMasterFetched)
	if err := r.checkpoint(); err != nil {
		return nil, err
	}

	r.transition(domain.JobStateSelectingQuality)
	variants := hls.ParseQualityVariants(master.Text, job.SourceURL)
	job.AudioTracks = hls.ParseAudioTracks(master.Text, job.SourceURL)
	job.AudioTrackCount = len(job.AudioTracks)
	if r.cb.OnAudioTracks != nil {
		r.cb.OnAudioTracks(job.AudioTracks)
	}
	preference := r.preference()
	selected := hls.SelectQuality(variants, preference)
	streams := hls.StreamURIs(master.Text, job.SourceURL)
	if selected.IsAuto() && (master.Kind == hls.KindMaster || len(streams) > 0) {
		// a master lists playlists, not segments
		if selected, err = masterRendition(variants, streams); err != nil {
			return nil, err
		}
	}
	job.SelectedVariant = &selected
	r.logger.Infof("selected %s of %d variants for preference %q (%d audio tracks)",
		selected.Name, len(variants), preference, len(job.AudioTracks))
	if r.cb.OnVariant != nil {
		r.cb.OnVariant(selected)
	}
	r.progress(progressQualitySelected)
	if err := r.checkpoint(); err != nil {
		return nil, err
	}

	r.transition(domain.JobStateFetchingMediaPlaylist)
	mediaURL, mediaText := job.SourceURL, master.Text
	if selected.URL != "" && selected.URL != job.SourceURL {
		media, err := r.o.fetcher.FetchPlaylist(ctx, selected.URL, job.Headers)
		if err != nil {
			return nil, err
		}
		if media.Kind == hls.KindMaster {
			return nil, fmt.Errorf("variant %s is a master playlist: %w", media.URL, hls.ErrNoMediaPlaylist)
		}
		mediaURL, mediaText = media.URL, media.Text
	}
	job.EncryptionKey = hls.ExtractEncryptionKey(mediaText, mediaURL)
	job.Segments = hls.ParseSegments(mediaText, mediaURL, r.logger)
	job.TotalSegments = len(job.Segments)
	r.progress(progressMediaFetched)

	if len(job.Segments) == 0 {
		r.logger.Info("playlist has no segments, storing it as is")
		return r.finalize(mediaText, nil)
	}
	if err := r.checkpoint(); err != nil {
		return nil, err
	}

	r.transition(domain.JobStateDownloadingKey)
	localKey := ""
	if job.EncryptionKey != nil {
		path, err := r.segs.DownloadKey(ctx, job.EncryptionKey, job.SavePath, job.Headers)
		if err != nil {
			r.logger.Warnf("continuing without encryption key, playback will fail: %v", err)
		} else {
			localKey = path
		}
	}
	r.progress(progressKeyDone)

	r.transition(domain.JobStateDownloadingSegments)
	downloaded, err := r.segs.DownloadSegments(ctx, job.Segments, job.SavePath, job.Headers, r.o.cfg.BatchSize,
		func(p domain.SegmentProgress) {
			job.SegmentsDownloaded = p.SegmentsDownloaded
			if r.cb.OnSegmentProgress != nil {
				r.cb.OnSegmentProgress(p)
			}
			r.progress(progressKeyDone + (progressSegmentsDone-progressKeyDone)*p.Progress)
		})
	if err != nil {
		return nil, err
	}
	job.SegmentsDownloaded = len(downloaded)
	r.attachLocalPaths(downloaded)
	if r.cb.OnSegments != nil {
		r.cb.OnSegments(downloaded)
	}

	r.transition(domain.JobStateFinalizing)
	playlist := hls.RewritePlaylist(mediaText, playlistRefs(job.SavePath, downloaded), playlistRef(job.SavePath, localKey))
	return r.finalize(playlist, downloaded)
}

// masterRendition picks the rendition to download when the selection is the master itself:
// the top rendition with a resolution, else the first listed stream.
func masterRendition(variants []domain.QualityVariant, streams []string) (domain.QualityVariant, error) {
	if len(variants) > 1 {
		if best := hls.SelectQuality(variants, domain.QualityBest); !best.IsAuto() {
			return best, nil
		}
		return variants[1], nil
	}
	if len(streams) > 0 {
		return domain.QualityVariant{Name: domain.AutoVariantName, URL: streams[0]}, nil
	}
	return domain.QualityVariant{}, fmt.Errorf("master playlist lists no streams: %w", hls.ErrNoMediaPlaylist)
}

// playlistRef turns a file below dir into a reference relative to the playlist stored in dir.
func playlistRef(dir, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func playlistRefs(dir string, downloaded []domain.DownloadedSegment) []domain.DownloadedSegment {
	refs := make([]domain.DownloadedSegment, len(downloaded))
	for i, d := range downloaded {
		d.LocalPath = playlistRef(dir, d.LocalPath)
		refs[i] = d
	}
	return refs
}

func (r *run) finalize(playlist string, downloaded []domain.DownloadedSegment) (*domain.DownloadManifest, error) {
	job := r.job
	if job.State != domain.JobStateFinalizing {
		r.transition(domain.JobStateFinalizing)
	}

	playlistPath := filepath.Join(job.SavePath, PlaylistFileName)
	if err := r.o.fs.WriteFile(playlistPath, []byte(playlist)); err != nil {
		return nil, fmt.Errorf("write playlist: %w", err)
	}
	job.LocalPlaylistPath = playlistPath

	manifest := &domain.DownloadManifest{
		OriginalURL:        job.SourceURL,
		LocalPlaylistPath:  playlistPath,
		SegmentsDownloaded: len(downloaded),
		TotalSegments:      job.TotalSegments,
		DownloadedAt:       time.Now().UTC(),
	}
	if job.SelectedVariant != nil {
		manifest.SelectedQualityName = job.SelectedVariant.Name
		manifest.SelectedQualityURL = job.SelectedVariant.URL
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := r.o.fs.WriteFile(filepath.Join(job.SavePath, ManifestFileName), data); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	r.progress(progressDone)
	r.transition(domain.JobStateCompleted)
	if manifest.Partial() {
		r.logger.Warnf("completed with %d of %d segments", manifest.SegmentsDownloaded, manifest.TotalSegments)
	} else {
		r.logger.Infof("completed, playlist at %s", playlistPath)
	}
	return manifest, nil
}

func (r *run) preference() domain.Quality {
	if r.job.QualityPreference != "" {
		return r.job.QualityPreference
	}
	if r.o.qualities == nil {
		return domain.QualityBest
	}
	q, err := r.o.qualities.GetDownloadQuality(r.ctx)
	if err != nil {
		r.logger.Warnf("read quality preference, using %s: %v", domain.QualityBest, err)
		return domain.QualityBest
	}
	return q
}

func (r *run) attachLocalPaths(downloaded []domain.DownloadedSegment) {
	byIndex := make(map[int]string, len(downloaded))
	for _, d := range downloaded {
		byIndex[d.Index] = d.LocalPath
	}
	for i := range r.job.Segments {
		r.job.Segments[i].LocalPath = byIndex[r.job.Segments[i].Index]
	}
}

func (r *run) checkpoint() error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// wrap attaches the failing phase and reports context cancellation as ErrCancelled.
func (r *run) wrap(err error) *JobError {
	if !errors.Is(err, ErrCancelled) && r.ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return &JobError{Phase: r.job.State, Err: err}
}

func (r *run) transition(state domain.JobState) {
	r.job.State = state
	r.logger.Debugf("state %s", state)
	if r.cb.OnState != nil {
		r.cb.OnState(state)
	}
}

func (r *run) progress(p float64) {
	r.job.Progress = p
	if r.cb.OnProgress != nil {
		r.cb.OnProgress(p)
	}
}
