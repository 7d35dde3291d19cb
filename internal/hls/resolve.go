package hls

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURI turns a playlist reference into an absolute URL against base.
//
// Absolute references are returned unchanged. Otherwise standard URL resolution is tried
// first; when either side fails to parse, the reference is joined onto the base's origin
// (for "/"-rooted references) or directory (for relative ones) by string concatenation.
func ResolveURI(base, candidate string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnresolvableURI)
	}
	if isAbsoluteURL(candidate) {
		return candidate, nil
	}

	baseURL, err := url.Parse(base)
	if err == nil && baseURL.IsAbs() && baseURL.Host != "" {
		if ref, err := url.Parse(candidate); err == nil {
			return baseURL.ResolveReference(ref).String(), nil
		}
	}
	return concatURI(base, candidate)
}

func concatURI(base, candidate string) (string, error) {
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if strings.HasPrefix(candidate, "//") {
		if scheme, _, ok := strings.Cut(base, "://"); ok && scheme != "" {
			return scheme + ":" + candidate, nil
		}
		return "", fmt.Errorf("%w: %q has no scheme to borrow from %q", ErrUnresolvableURI, candidate, base)
	}
	if strings.HasPrefix(candidate, "/") {
		origin := originOf(base)
		if origin == "" {
			return "", fmt.Errorf("%w: %q against %q", ErrUnresolvableURI, candidate, base)
		}
		return origin + candidate, nil
	}
	slash := strings.LastIndexByte(base, '/')
	if slash < 0 {
		return "", fmt.Errorf("%w: %q against %q", ErrUnresolvableURI, candidate, base)
	}
	return base[:slash+1] + candidate, nil
}

// originOf returns "scheme://host" of a raw URL string, or "" when there is none.
func originOf(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
