package lavalink

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

func (n *Node) sessionPath() (string, error) {
	sid := n.SessionID()
	if sid == "" {
		return "", fmt.Errorf("%s: no session id yet", n.opts.Identifier)
	}
	return "/sessions/" + url.PathEscape(sid), nil
}

// FetchInfo fetches the node's capability info.
func (n *Node) FetchInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := n.MakeRequest(ctx, http.MethodGet, "/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FetchStats fetches a stats snapshot over REST and caches it.
func (n *Node) FetchStats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := n.MakeRequest(ctx, http.MethodGet, "/stats", nil, nil, &s); err != nil {
		return Stats{}, err
	}
	n.mu.Lock()
	n.stats = s
	n.mu.Unlock()
	return s, nil
}

// UpdatePlayer patches the remote player for a guild.
func (n *Node) UpdatePlayer(ctx context.Context, guildID string, body UpdatePlayer, noReplace bool) (*RemotePlayer, error) {
	base, err := n.sessionPath()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("noReplace", strconv.FormatBool(noReplace))

	var out RemotePlayer
	if err := n.MakeRequest(ctx, http.MethodPatch, base+"/players/"+guildID, q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DestroyPlayer deletes the remote player for a guild.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	base, err := n.sessionPath()
	if err != nil {
		return err
	}
	return n.MakeRequest(ctx, http.MethodDelete, base+"/players/"+guildID, nil, nil, nil)
}

// RemotePlayers lists the players the node holds for this session.
func (n *Node) RemotePlayers(ctx context.Context) ([]RemotePlayer, error) {
	base, err := n.sessionPath()
	if err != nil {
		return nil, err
	}
	var out []RemotePlayer
	if err := n.MakeRequest(ctx, http.MethodGet, base+"/players", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemotePlayer fetches one remote player.
func (n *Node) RemotePlayer(ctx context.Context, guildID string) (*RemotePlayer, error) {
	base, err := n.sessionPath()
	if err != nil {
		return nil, err
	}
	var out RemotePlayer
	if err := n.MakeRequest(ctx, http.MethodGet, base+"/players/"+guildID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSession changes the resuming settings of the current session.
func (n *Node) UpdateSession(ctx context.Context, body SessionUpdate) error {
	base, err := n.sessionPath()
	if err != nil {
		return err
	}
	return n.MakeRequest(ctx, http.MethodPatch, base, nil, body, nil)
}

// RoutePlannerStatus is a pass-through of the node's IP rotation state.
func (n *Node) RoutePlannerStatus(ctx context.Context) (*RoutePlannerStatus, error) {
	var out RoutePlannerStatus
	if err := n.MakeRequest(ctx, http.MethodGet, "/routeplanner/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnmarkFailedAddress frees one failed address from the route planner.
func (n *Node) UnmarkFailedAddress(ctx context.Context, address string) error {
	return n.MakeRequest(ctx, http.MethodPost, "/routeplanner/free/address", nil, map[string]string{"address": address}, nil)
}

// UnmarkAllFailedAddresses frees every failed address.
func (n *Node) UnmarkAllFailedAddresses(ctx context.Context) error {
	return n.MakeRequest(ctx, http.MethodPost, "/routeplanner/free/all", nil, nil, nil)
}

// DecodeTrack turns an encoded handle back into track metadata.
func (n *Node) DecodeTrack(ctx context.Context, encoded string) (*Track, error) {
	q := url.Values{}
	if n.opts.Version == V4 {
		q.Set("encodedTrack", encoded)
	} else {
		q.Set("track", encoded)
	}

	var raw RawTrack
	if n.opts.Version == V4 {
		if err := n.MakeRequest(ctx, http.MethodGet, "/decodetrack", q, nil, &raw); err != nil {
			return nil, err
		}
		return BuildTrack(raw, nil)
	}
	if err := n.MakeRequest(ctx, http.MethodGet, "/decodetrack", q, nil, &raw.Info); err != nil {
		return nil, err
	}
	raw.Encoded = encoded
	return BuildTrack(raw, nil)
}

// DecodeTracks decodes several handles in one call.
func (n *Node) DecodeTracks(ctx context.Context, encoded []string) ([]*Track, error) {
	var raws []RawTrack
	if err := n.MakeRequest(ctx, http.MethodPost, "/decodetracks", nil, encoded, &raws); err != nil {
		return nil, err
	}
	tracks := make([]*Track, 0, len(raws))
	for _, raw := range raws {
		t, err := BuildTrack(raw, nil)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// LoadTracks resolves an identifier or a prefixed search query.
func (n *Node) LoadTracks(ctx context.Context, identifier string, requester any) (*LoadResult, error) {
	q := url.Values{}
	q.Set("identifier", identifier)

	var body []byte
	if err := n.MakeRequest(ctx, http.MethodGet, "/loadtracks", q, nil, &body); err != nil {
		return nil, err
	}
	res, err := decodeLoadResult(n.opts.Version, body, requester)
	if err != nil {
		return nil, &RequestError{Method: http.MethodGet, Endpoint: "/loadtracks", Status: http.StatusOK, Err: err}
	}
	return res, nil
}
