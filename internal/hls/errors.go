package hls

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPlaylist is returned when a fetched body cannot be decoded as text.
	ErrMalformedPlaylist = errors.New("malformed playlist")
	// ErrNoMediaPlaylist is returned when a master playlist leads to no playable media playlist.
	ErrNoMediaPlaylist = errors.New("no media playlist")
	// ErrUnresolvableURI is returned when a reference cannot be turned into a usable URL.
	ErrUnresolvableURI = errors.New("unresolvable uri")
)

// NetworkError reports a failed HTTP fetch: either a non-2xx status or a transport failure.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
