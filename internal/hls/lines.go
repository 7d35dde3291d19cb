package hls

import "strings"

// LineKind classifies a single playlist line.
type LineKind int

const (
	LineBlank LineKind = iota
	LineComment
	LineTag
	LineURI
)

// Tag names used by the downloader.
const (
	tagStreamInf = "#EXT-X-STREAM-INF"
	tagMedia     = "#EXT-X-MEDIA"
	tagKey       = "#EXT-X-KEY"
)

// Line is a classified playlist line. Text is trimmed of surrounding whitespace.
type Line struct {
	Kind  LineKind
	Text  string
	Tag   string
	Attrs string
}

// ClassifyLine decides whether a raw line is blank, a tag, a plain comment or a URI.
func ClassifyLine(raw string) Line {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return Line{Kind: LineBlank}
	case strings.HasPrefix(text, "#EXT"):
		tag, attrs, _ := strings.Cut(text, ":")
		return Line{Kind: LineTag, Text: text, Tag: tag, Attrs: attrs}
	case strings.HasPrefix(text, "#"):
		return Line{Kind: LineComment, Text: text}
	default:
		return Line{Kind: LineURI, Text: text}
	}
}

// splitLines splits playlist text on LF, tolerating CRLF.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ParseAttributes parses an attribute list such as `METHOD=AES-128,URI="k.bin"`.
// Keys are upper-cased; quoted values may contain commas and have their quotes removed.
func ParseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value, s = s[1:], ""
			} else {
				value = s[1 : end+1]
				s = s[end+2:]
			}
			if comma := strings.IndexByte(s, ','); comma >= 0 {
				s = s[comma+1:]
			} else {
				s = ""
			}
		} else {
			comma := strings.IndexByte(s, ',')
			if comma < 0 {
				value, s = s, ""
			} else {
				value, s = s[:comma], s[comma+1:]
			}
			value = strings.TrimSpace(value)
		}
		if key != "" {
			attrs[key] = value
		}
	}
	return attrs
}
