package hls

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"hls-offline/internal/domain"
)

var mediaExtensions = []string{".ts", ".m3u8", ".m4s"}

// ParseQualityVariants lists the renditions of a master playlist. The synthetic Auto variant,
// pointing at baseURL itself, is always first. Variants without a RESOLUTION are skipped.
func ParseQualityVariants(text, baseURL string) []domain.QualityVariant {
	variants := []domain.QualityVariant{{Name: domain.AutoVariantName, URL: baseURL}}

	lines := splitLines(text)
	for i := 0; i < len(lines); i++ {
		line := ClassifyLine(lines[i])
		if line.Kind != LineTag || line.Tag != tagStreamInf {
			continue
		}

		uri, next := nextURILine(lines, i+1)
		if uri == "" {
			continue
		}
		i = next

		width, height, ok := parseResolution(ParseAttributes(line.Attrs)["RESOLUTION"])
		if !ok {
			continue
		}
		resolved, err := ResolveURI(baseURL, uri)
		if err != nil {
			continue
		}
		variants = append(variants, domain.QualityVariant{
			Name:   variantName(height),
			URL:    resolved,
			Height: &height,
			Width:  &width,
		})
	}
	return variants
}

// nextURILine returns the URI that follows a #EXT-X-STREAM-INF tag, skipping blank lines.
// Another tag before any URI means the stream entry has no URI.
func nextURILine(lines []string, from int) (string, int) {
	for j := from; j < len(lines); j++ {
		switch next := ClassifyLine(lines[j]); next.Kind {
		case LineBlank:
			continue
		case LineURI:
			return next.Text, j
		default:
			return "", from - 1
		}
	}
	return "", from - 1
}

func parseResolution(v string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !found {
		return 0, 0, false
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

func variantName(height int) string {
	switch {
	case height >= 1080:
		return fmt.Sprintf("%dp (FHD)", height)
	case height >= 720:
		return fmt.Sprintf("%dp (HD)", height)
	case height >= 480:
		return fmt.Sprintf("%dp (SD)", height)
	default:
		return fmt.Sprintf("%dp", height)
	}
}

// ParseAudioTracks lists the audio renditions declared with #EXT-X-MEDIA:TYPE=AUDIO.
// A default track is always first; tracks are unique by (name, language).
func ParseAudioTracks(text, baseURL string) []domain.AudioTrack {
	tracks := []domain.AudioTrack{{ID: "default", Name: "Default", Language: "unknown"}}
	seen := map[[2]string]struct{}{{"Default", "unknown"}: {}}

	for _, raw := range splitLines(text) {
		line := ClassifyLine(raw)
		if line.Kind != LineTag || line.Tag != tagMedia {
			continue
		}
		attrs := ParseAttributes(line.Attrs)
		if !strings.EqualFold(attrs["TYPE"], "AUDIO") {
			continue
		}

		name := attrs["NAME"]
		language := attrs["LANGUAGE"]
		if language == "" {
			language = "unknown"
		}
		if name == "" {
			name = language
		}
		key := [2]string{name, language}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		track := domain.AudioTrack{
			ID:       fmt.Sprintf("audio-%d", len(tracks)),
			Name:     name,
			Language: language,
		}
		if group, ok := attrs["GROUP-ID"]; ok && group != "" {
			track.GroupID = &group
		}
		if uri, ok := attrs["URI"]; ok && uri != "" {
			if resolved, err := ResolveURI(baseURL, uri); err == nil {
				uri = resolved
			}
			track.URI = &uri
		}
		tracks = append(tracks, track)
	}
	return tracks
}

// ExtractEncryptionKey returns the first #EXT-X-KEY of a media playlist with its URI made
// absolute, or nil when the stream is not encrypted.
func ExtractEncryptionKey(text, baseURL string) *domain.EncryptionKeyInfo {
	for _, raw := range splitLines(text) {
		line := ClassifyLine(raw)
		if line.Kind != LineTag || line.Tag != tagKey {
			continue
		}
		attrs := ParseAttributes(line.Attrs)
		method := attrs["METHOD"]
		uri := attrs["URI"]
		if strings.EqualFold(method, "NONE") || uri == "" {
			return nil
		}
		if resolved, err := ResolveURI(baseURL, uri); err == nil {
			uri = resolved
		}
		key := &domain.EncryptionKeyInfo{Method: method, URI: uri}
		if iv, ok := attrs["IV"]; ok && iv != "" {
			key.IV = &iv
		}
		return key
	}
	return nil
}

// StreamURIs lists the resolved URI of every #EXT-X-STREAM-INF entry, including entries
// without a RESOLUTION that ParseQualityVariants skips.
func StreamURIs(text, baseURL string) []string {
	var uris []string
	lines := splitLines(text)
	for i := 0; i < len(lines); i++ {
		line := ClassifyLine(lines[i])
		if line.Kind != LineTag || line.Tag != tagStreamInf {
			continue
		}
		uri, next := nextURILine(lines, i+1)
		if uri == "" {
			continue
		}
		i = next
		if resolved, err := ResolveURI(baseURL, uri); err == nil {
			uris = append(uris, resolved)
		}
	}
	return uris
}

// ParseSegments lists the media segments of a playlist in order of appearance.
// URIs of #EXT-X-STREAM-INF entries are variant playlists and never count as segments.
// Lines that cannot be resolved are dropped with a warning on logger, which may be nil.
func ParseSegments(text, baseURL string, logger logrus.FieldLogger) []domain.Segment {
	var segments []domain.Segment
	streamURI := false
	for n, raw := range splitLines(text) {
		line := ClassifyLine(raw)
		switch line.Kind {
		case LineTag:
			streamURI = line.Tag == tagStreamInf
			continue
		case LineURI:
			if streamURI {
				streamURI = false
				continue
			}
		default:
			continue
		}
		if !isSegmentReference(line.Text) {
			continue
		}
		resolved, err := ResolveURI(baseURL, line.Text)
		if err != nil {
			if logger != nil {
				logger.WithField("line", n+1).Warnf("skip segment %q: %v", line.Text, err)
			}
			continue
		}
		index := len(segments) + 1
		segments = append(segments, domain.Segment{
			Index:     index,
			SourceURL: resolved,
			FileName:  SegmentFileName(index),
		})
	}
	return segments
}

// SegmentFileName is the local file name for the segment at a 1-based index.
func SegmentFileName(index int) string {
	return fmt.Sprintf("segment_%06d.ts", index)
}

func isSegmentReference(s string) bool {
	if isAbsoluteURL(s) {
		return true
	}
	lower := strings.ToLower(s)
	for _, ext := range mediaExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	if len(s) <= 3 || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	return strings.ContainsAny(s, "./")
}
