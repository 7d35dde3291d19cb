package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"hls-offline/internal/domain"
	"hls-offline/internal/hls"
	"hls-offline/internal/metrics"
	"hls-offline/internal/storage"
)

const (
	DefaultBatchSize = 10
	SegmentsDir      = "segments"
	KeyFileName      = "encryption.key"
)

// SegmentDownloader fetches the encryption key and media segments of one job into local storage.
type SegmentDownloader struct {
	fetcher *hls.Fetcher
	fs      storage.FileSystem
	logger  logrus.FieldLogger
}

func NewSegmentDownloader(fetcher *hls.Fetcher, fs storage.FileSystem, logger logrus.FieldLogger) *SegmentDownloader {
	if logger == nil {
		logger = logrus.New()
	}
	return &SegmentDownloader{fetcher: fetcher, fs: fs, logger: logger}
}

// WithLogger returns a copy that logs to logger.
func (d *SegmentDownloader) WithLogger(logger logrus.FieldLogger) *SegmentDownloader {
	cp := *d
	cp.logger = logger
	return &cp
}

// DownloadKey stores the key as destDir/encryption.key and returns its path.
// Any failure is reported as a *KeyDownloadError.
func (d *SegmentDownloader) DownloadKey(ctx context.Context, key *domain.EncryptionKeyInfo, destDir string, headers map[string]string) (string, error) {
	data, err := d.fetcher.Get(ctx, key.URI, headers)
	if err != nil {
		metrics.KeyFailuresTotal.Inc()
		return "", &KeyDownloadError{URI: key.URI, Err: err}
	}
	path := filepath.Join(destDir, KeyFileName)
	if err := d.fs.WriteFile(path, data); err != nil {
		metrics.KeyFailuresTotal.Inc()
		return "", &KeyDownloadError{URI: key.URI, Err: err}
	}
	return path, nil
}

type segmentResult struct {
	index   int
	segment domain.DownloadedSegment
	err     error
}

// DownloadSegments downloads segments into destDir/segments in batches of batchSize.
//
// Requests within a batch run concurrently and the next batch starts only once the whole
// batch has finished. Individual failures are logged and skipped; onBatch receives the
// success count after every batch. The result is ordered by segment index. Cancellation of
// ctx is observed between batches: requests already in flight are allowed to finish.
func (d *SegmentDownloader) DownloadSegments(
	ctx context.Context,
	segments []domain.Segment,
	destDir string,
	headers map[string]string,
	batchSize int,
	onBatch func(domain.SegmentProgress),
) ([]domain.DownloadedSegment, error) {
	total := len(segments)
	if total == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	segDir := filepath.Join(destDir, SegmentsDir)
	if err := d.fs.MkdirAll(segDir); err != nil {
		return nil, fmt.Errorf("create segments dir: %w", err)
	}

	inFlight := context.WithoutCancel(ctx)
	results := make([]segmentResult, 0, total)
	succeeded := 0

	for start := 0; start < total; start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped after %d of %d segments: %w", ErrCancelled, succeeded, total, err)
		}

		end := min(start+batchSize, total)
		batch := d.downloadBatch(inFlight, segments[start:end], segDir, headers)
		for _, r := range batch {
			if r.err == nil {
				succeeded++
			}
		}
		results = append(results, batch...)

		d.logger.Debugf("batch %d-%d done, %d/%d segments downloaded", start+1, end, succeeded, total)
		if onBatch != nil {
			onBatch(domain.SegmentProgress{
				SegmentsDownloaded: succeeded,
				TotalSegments:      total,
				Progress:           float64(succeeded) / float64(total),
			})
		}
	}

	return d.reduce(results, total)
}

func (d *SegmentDownloader) downloadBatch(ctx context.Context, batch []domain.Segment, segDir string, headers map[string]string) []segmentResult {
	results := make([]segmentResult, len(batch))
	var wg sync.WaitGroup
	for i, seg := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.downloadSegment(ctx, seg, segDir, headers)
		}()
	}
	wg.Wait()
	return results
}

func (d *SegmentDownloader) downloadSegment(ctx context.Context, seg domain.Segment, segDir string, headers map[string]string) segmentResult {
	logger := d.logger.WithField("segment", seg.Index)

	data, err := d.fetcher.Get(ctx, seg.SourceURL, headers)
	if err != nil {
		metrics.SegmentFailuresTotal.Inc()
		logger.Warnf("download segment: %v", err)
		return segmentResult{index: seg.Index, err: err}
	}

	name := seg.FileName
	if name == "" {
		name = hls.SegmentFileName(seg.Index)
	}
	path := filepath.Join(segDir, name)
	if err := d.fs.WriteFile(path, data); err != nil {
		metrics.SegmentFailuresTotal.Inc()
		logger.Warnf("store segment: %v", err)
		return segmentResult{index: seg.Index, err: err}
	}

	metrics.SegmentsDownloadedTotal.Inc()
	metrics.SegmentBytesTotal.Add(float64(len(data)))
	return segmentResult{
		index: seg.Index,
		segment: domain.DownloadedSegment{
			Index:     seg.Index,
			SourceURL: seg.SourceURL,
			LocalPath: path,
			Bytes:     int64(len(data)),
		},
	}
}

// reduce turns per-segment results into the ordered list of successes, failing only when
// nothing succeeded.
func (d *SegmentDownloader) reduce(results []segmentResult, total int) ([]domain.DownloadedSegment, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	downloaded := make([]domain.DownloadedSegment, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			downloaded = append(downloaded, r.segment)
		}
	}

	if len(downloaded) == 0 {
		return nil, fmt.Errorf("%w: all %d segments failed", ErrNoSegmentsDownloaded, total)
	}
	if len(downloaded) < total {
		d.logger.Warnf("partial download: %d of %d segments", len(downloaded), total)
	}
	return downloaded, nil
}
