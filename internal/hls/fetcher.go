package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/grafov/m3u8"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36"
	DefaultRequestTimeout = 30 * time.Second
)

// PlaylistKind tells master playlists apart from media playlists.
type PlaylistKind int

const (
	KindUnknown PlaylistKind = iota
	KindMaster
	KindMedia
)

func (k PlaylistKind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Playlist is a fetched playlist document.
type Playlist struct {
	URL  string
	Text string
	Kind PlaylistKind
}

// Fetcher performs uncached GET requests with the merged header set.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

type FetcherConfig struct {
	Client         *http.Client
	UserAgent      string
	RequestTimeout time.Duration
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Fetcher{
		client:    cfg.Client,
		userAgent: cfg.UserAgent,
		timeout:   cfg.RequestTimeout,
	}
}

// Fetch downloads a playlist document as text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	body, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: %s is not utf-8 text", ErrMalformedPlaylist, rawURL)
	}
	return strings.TrimPrefix(string(body), "\ufeff"), nil
}

// FetchPlaylist downloads a playlist and reports whether it is a master or media playlist.
func (f *Fetcher) FetchPlaylist(ctx context.Context, rawURL string, headers map[string]string) (*Playlist, error) {
	text, err := f.Fetch(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	return &Playlist{URL: rawURL, Text: text, Kind: DetectKind(text)}, nil
}

// Get issues a single GET request bounded by the per-request timeout and returns the body.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	req.Header = MergeHeaders(rawURL, headers, f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// MergeHeaders combines caller headers with defaults. Caller values win; keys compare
// case-insensitively. Origin and Referer default to the origin of rawURL.
func MergeHeaders(rawURL string, headers map[string]string, userAgent string) http.Header {
	merged := make(http.Header, len(headers)+4)
	for k, v := range headers {
		merged.Set(k, v)
	}

	defaults := map[string]string{
		"User-Agent": userAgent,
		"Accept":     "*/*",
	}
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		defaults["Origin"] = origin
		defaults["Referer"] = origin + "/"
	}
	for k, v := range defaults {
		if v == "" || hasHeader(headers, k) {
			continue
		}
		merged.Set(k, v)
	}
	return merged
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// DetectKind classifies a playlist with the m3u8 decoder and falls back to scanning for
// variant stream tags when the decoder rejects the document.
func DetectKind(text string) PlaylistKind {
	if _, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false); err == nil {
		switch listType {
		case m3u8.MASTER:
			return KindMaster
		case m3u8.MEDIA:
			return KindMedia
		}
	}
	kind := KindUnknown
	for _, raw := range splitLines(text) {
		line := ClassifyLine(raw)
		switch {
		case line.Kind == LineTag && line.Tag == tagStreamInf:
			return KindMaster
		case line.Kind == LineURI && isSegmentReference(line.Text):
			kind = KindMedia
		}
	}
	return kind
}
