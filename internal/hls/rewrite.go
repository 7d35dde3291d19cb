package hls

import (
	"regexp"
	"strings"

	"hls-offline/internal/domain"
)

var keyURIAttr = regexp.MustCompile(`([:,]\s*)URI=("[^"]*"|[^,]*)`)

// RewritePlaylist produces a copy of a media playlist that references local files.
//
// URI lines are replaced, in order, by the local paths of downloaded; once those run out the
// remaining URI lines are dropped. #EXT-X-KEY lines point at localKeyPath, or are removed when
// localKeyPath is empty. Every other line is kept verbatim.
func RewritePlaylist(original string, downloaded []domain.DownloadedSegment, localKeyPath string) string {
	lines := splitLines(original)
	out := make([]string, 0, len(lines))
	next := 0

	for _, raw := range lines {
		line := ClassifyLine(raw)
		switch line.Kind {
		case LineTag:
			if line.Tag == tagKey {
				if localKeyPath == "" {
					continue
				}
				out = append(out, rewriteKeyLine(raw, localKeyPath))
				continue
			}
			out = append(out, raw)
		case LineURI:
			if next >= len(downloaded) {
				continue
			}
			out = append(out, downloaded[next].LocalPath)
			next++
		default:
			out = append(out, raw)
		}
	}
	return strings.Join(out, "\n")
}

func rewriteKeyLine(raw, localKeyPath string) string {
	if keyURIAttr.MatchString(raw) {
		escaped := strings.ReplaceAll(localKeyPath, "$", "$$")
		return keyURIAttr.ReplaceAllString(raw, `${1}URI="`+escaped+`"`)
	}
	sep := ","
	if !strings.Contains(raw, ":") {
		sep = ":"
	}
	return strings.TrimRight(raw, " ") + sep + `URI="` + localKeyPath + `"`
}
