package lavalink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
)

// EntryKind discriminates the two shapes a queue entry can take.
type EntryKind int

const (
	KindTrack EntryKind = iota + 1
	KindUnresolved
)

// QueueEntry is either a *Track or an *UnresolvedTrack. The set is closed.
type QueueEntry interface {
	Kind() EntryKind
	Title() string
	Author() string
	Duration() time.Duration
	Requester() any
	queueEntry()
}

// RawTrack is a track as the node serialises it. v2/v3 put the handle in "track", v4 in "encoded".
type RawTrack struct {
	Encoded    string         `json:"encoded"`
	Track      string         `json:"track,omitempty"`
	Info       RawTrackInfo   `json:"info"`
	PluginInfo map[string]any `json:"pluginInfo,omitempty"`
}

type RawTrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
	ISRC       string `json:"isrc"`
	SourceName string `json:"sourceName"`
}

// Track is a playable queue entry backed by an opaque encoded handle.
type Track struct {
	Encoded    string
	Identifier string
	URI        string
	ArtworkURL string
	ISRC       string
	SourceName string
	Seekable   bool
	Stream     bool
	PluginInfo map[string]any

	title     string
	author    string
	duration  time.Duration
	requester any
}

// BuildTrack validates raw node metadata and builds a Track from it.
func BuildTrack(raw RawTrack, requester any) (*Track, error) {
	encoded := raw.Encoded
	if encoded == "" {
		encoded = raw.Track
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: missing encoded handle", ErrInvalidTrack)
	}
	return &Track{
		Encoded:    encoded,
		Identifier: raw.Info.Identifier,
		URI:        raw.Info.URI,
		ArtworkURL: raw.Info.ArtworkURL,
		ISRC:       raw.Info.ISRC,
		SourceName: raw.Info.SourceName,
		Seekable:   raw.Info.IsSeekable,
		Stream:     raw.Info.IsStream,
		PluginInfo: raw.PluginInfo,
		title:      raw.Info.Title,
		author:     raw.Info.Author,
		duration:   time.Duration(raw.Info.Length) * time.Millisecond,
		requester:  requester,
	}, nil
}

func (t *Track) Kind() EntryKind         { return KindTrack }
func (t *Track) Title() string           { return t.title }
func (t *Track) Author() string          { return t.author }
func (t *Track) Duration() time.Duration { return t.duration }
func (t *Track) Requester() any          { return t.requester }
func (t *Track) queueEntry()             {}

var thumbnailSizes = map[string]bool{
	"0": true, "1": true, "2": true, "3": true,
	"default": true, "mqdefault": true, "hqdefault": true, "maxresdefault": true,
}

// Thumbnail returns the YouTube thumbnail URL for the given size token,
// or an empty string when the source has no thumbnail convention.
func (t *Track) Thumbnail(size string) string {
	if t.SourceName != "youtube" && !strings.Contains(t.URI, "youtube") {
		return ""
	}
	if !thumbnailSizes[size] {
		size = "default"
	}
	id, err := youtube.ExtractVideoID(t.URI)
	if err != nil || id == "" {
		id = t.Identifier
	}
	if id == "" {
		return ""
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/%s.jpg", id, size)
}

// UnresolvedTrack only describes a track. It must be resolved before it can be played.
type UnresolvedTrack struct {
	URI string

	title     string
	author    string
	duration  time.Duration
	requester any
}

// NewUnresolvedTrack requires at least a title.
func NewUnresolvedTrack(title, author string, duration time.Duration, requester any) (*UnresolvedTrack, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: unresolved track needs a title", ErrInvalidTrack)
	}
	return &UnresolvedTrack{title: title, author: author, duration: duration, requester: requester}, nil
}

func (u *UnresolvedTrack) Kind() EntryKind         { return KindUnresolved }
func (u *UnresolvedTrack) Title() string           { return u.title }
func (u *UnresolvedTrack) Author() string          { return u.author }
func (u *UnresolvedTrack) Duration() time.Duration { return u.duration }
func (u *UnresolvedTrack) Requester() any          { return u.requester }
func (u *UnresolvedTrack) queueEntry()             {}

// validEntry is the track-or-unresolved-track check done before an entry is accepted.
func validEntry(e QueueEntry) bool {
	switch v := e.(type) {
	case *Track:
		return v != nil && v.Encoded != ""
	case *UnresolvedTrack:
		return v != nil && v.title != ""
	}
	return false
}

// TrackResolver turns an UnresolvedTrack into a playable Track.
type TrackResolver interface {
	Resolve(ctx context.Context, u *UnresolvedTrack) (*Track, error)
}

const closestDurationSlack = 1500 * time.Millisecond

// searchResolver searches through the manager and picks the closest match.
type searchResolver struct {
	m *Manager
}

func (r searchResolver) Resolve(ctx context.Context, u *UnresolvedTrack) (*Track, error) {
	query := u.URI
	if query == "" {
		query = u.title
		if u.author != "" {
			query = u.author + " - " + u.title
		}
	}

	res, err := r.m.Search(ctx, query, u.requester)
	if err != nil {
		return nil, &ResolveError{Title: u.title, Author: u.author, Err: err}
	}
	if len(res.Tracks) == 0 {
		return nil, &ResolveError{Title: u.title, Author: u.author, Err: fmt.Errorf("no results for %q", query)}
	}
	return closestTrack(u, res.Tracks), nil
}

func closestTrack(u *UnresolvedTrack, tracks []*Track) *Track {
	within := func(t *Track) bool {
		if u.duration == 0 {
			return true
		}
		d := t.duration - u.duration
		return d >= -closestDurationSlack && d <= closestDurationSlack
	}

	if u.author != "" {
		author := strings.ToLower(u.author)
		for _, t := range tracks {
			if (strings.ToLower(t.author) == author || strings.Contains(strings.ToLower(t.title), author)) && within(t) {
				return t
			}
		}
	}
	for _, t := range tracks {
		if within(t) {
			return t
		}
	}
	return tracks[0]
}
