package domain

import "strings"

// Quality is the user's rendition preference.
type Quality string

const (
	QualityBest   Quality = "Best"
	QualityHigh   Quality = "High"
	QualityMedium Quality = "Medium"
	QualityLow    Quality = "Low"
)

// ParseQuality maps a case-insensitive name onto a known preference.
func ParseQuality(s string) (Quality, bool) {
	for _, q := range []Quality{QualityBest, QualityHigh, QualityMedium, QualityLow} {
		if strings.EqualFold(strings.TrimSpace(s), string(q)) {
			return q, true
		}
	}
	return "", false
}

// AutoVariantName names the synthetic variant pointing at the master playlist itself.
const AutoVariantName = "Auto"

// QualityVariant is one rendition listed by a master playlist.
type QualityVariant struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Height *int   `json:"height,omitempty"`
	Width  *int   `json:"width,omitempty"`
}

// IsAuto reports whether v is the synthetic master playlist entry.
func (v QualityVariant) IsAuto() bool {
	return v.Name == AutoVariantName && v.Height == nil
}

// AudioTrack is an alternative audio rendition from #EXT-X-MEDIA.
type AudioTrack struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Language string  `json:"language"`
	GroupID  *string `json:"groupId,omitempty"`
	URI      *string `json:"uri,omitempty"`
}

// EncryptionKeyInfo describes the #EXT-X-KEY directive of a media playlist.
type EncryptionKeyInfo struct {
	Method string  `json:"method"`
	URI    string  `json:"uri"`
	IV     *string `json:"iv,omitempty"`
}

// Segment is a media segment reference in playlist order. Index is 1-based.
type Segment struct {
	Index     int    `json:"index"`
	SourceURL string `json:"sourceUrl"`
	LocalPath string `json:"localPath,omitempty"`
	FileName  string `json:"fileName"`
}

// DownloadedSegment is a segment persisted to local storage.
type DownloadedSegment struct {
	Index     int    `json:"index"`
	SourceURL string `json:"sourceUrl"`
	LocalPath string `json:"localPath"`
	Bytes     int64  `json:"bytes"`
}
