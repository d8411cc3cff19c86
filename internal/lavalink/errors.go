package lavalink

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOptions  = errors.New("invalid options")
	ErrNoAvailableNode = errors.New("no available nodes")
	ErrNotConnected    = errors.New("node is not connected")
	ErrEncoding        = errors.New("payload is not a JSON object")
	ErrUnknownOp       = errors.New("unknown op")
	ErrNoVoiceChannel  = errors.New("no voice channel set")
	ErrNoCurrentTrack  = errors.New("no current track")
	ErrNotSeekable     = errors.New("current track is not seekable")
	ErrPlayerDestroyed = errors.New("player is destroyed")
	ErrInvalidTrack    = errors.New("invalid track")
	ErrNodeDestroyed   = errors.New("node is destroyed")
)

// RequestError is returned by every REST call to a node. It is never retried internally.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusCode lets retrylimit classify rate limits and server errors.
func (e *RequestError) StatusCode() int { return e.Status }

// ResolveError reports a failed lookup of an UnresolvedTrack.
type ResolveError struct {
	Title  string
	Author string
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q by %q: %v", e.Title, e.Author, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
