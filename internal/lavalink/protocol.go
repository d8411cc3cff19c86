package lavalink

import (
	"encoding/json"
	"strings"
)

// Version is the protocol generation a node speaks.
type Version string

const (
	V2 Version = "v2"
	V3 Version = "v3"
	V4 Version = "v4"
)

func (v Version) valid() bool {
	return v == V2 || v == V3 || v == V4
}

// Inbound ops.
const (
	OpStats        = "stats"
	OpPlayerUpdate = "playerUpdate"
	OpEvent        = "event"
	OpReady        = "ready"
)

// Event types carried by OpEvent.
const (
	TrackStartEventType     = "TrackStartEvent"
	TrackEndEventType       = "TrackEndEvent"
	TrackStuckEventType     = "TrackStuckEvent"
	TrackExceptionEventType = "TrackExceptionEvent"
	WebSocketClosedType     = "WebSocketClosedEvent"
)

// TrackEndReason is normalised to upper snake case regardless of protocol version.
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "FINISHED"
	ReasonLoadFailed TrackEndReason = "LOAD_FAILED"
	ReasonStopped    TrackEndReason = "STOPPED"
	ReasonReplaced   TrackEndReason = "REPLACED"
	ReasonCleanup    TrackEndReason = "CLEANUP"
)

// ParseTrackEndReason accepts both the v4 camelCase and the v2/v3 upper case forms.
func ParseTrackEndReason(s string) TrackEndReason {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "finished":
		return ReasonFinished
	case "loadfailed":
		return ReasonLoadFailed
	case "stopped":
		return ReasonStopped
	case "replaced":
		return ReasonReplaced
	case "cleanup":
		return ReasonCleanup
	}
	return TrackEndReason(strings.ToUpper(s))
}

type message struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId,omitempty"`
}

type readyMessage struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

// PlayerUpdateState is the state block of a playerUpdate push.
type PlayerUpdateState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

type playerUpdateMessage struct {
	GuildID string            `json:"guildId"`
	State   PlayerUpdateState `json:"state"`
}

type eventMessage struct {
	GuildID     string          `json:"guildId"`
	Type        string          `json:"type"`
	Track       json.RawMessage `json:"track"`
	Reason      string          `json:"reason"`
	ThresholdMs int64           `json:"thresholdMs"`
	Exception   *Exception      `json:"exception"`
	Error       string          `json:"error"`
	Code        int             `json:"code"`
	ByRemote    bool            `json:"byRemote"`
}

// Exception as reported by the node.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// Stats is the node's last reported system snapshot.
type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPUStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// LoadPercent is (systemLoad/cores)*100.
func (s Stats) LoadPercent() float64 {
	if s.CPU.Cores == 0 {
		return 0
	}
	return s.CPU.SystemLoad / float64(s.CPU.Cores) * 100
}

// Info is the node's /info response.
type Info struct {
	Version struct {
		Semver string `json:"semver"`
		Major  int    `json:"major"`
		Minor  int    `json:"minor"`
		Patch  int    `json:"patch"`
	} `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	JVM            string   `json:"jvm"`
	Lavaplayer     string   `json:"lavaplayer"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
	Plugins        []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"plugins"`
}

// VoiceServerPayload is the voice sub-object the node needs to join a voice server.
type VoiceServerPayload struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// UpdatePlayerTrack carries an explicit null encoded field to stop playback.
type UpdatePlayerTrack struct {
	Encoded  *string        `json:"encoded"`
	UserData map[string]any `json:"userData,omitempty"`
}

// UpdatePlayer is the body of PATCH /sessions/{sessionId}/players/{guildId}.
type UpdatePlayer struct {
	Track    *UpdatePlayerTrack  `json:"track,omitempty"`
	Position *int64              `json:"position,omitempty"`
	EndTime  *int64              `json:"endTime,omitempty"`
	Volume   *int                `json:"volume,omitempty"`
	Paused   *bool               `json:"paused,omitempty"`
	Filters  *FilterPayload      `json:"filters,omitempty"`
	Voice    *VoiceServerPayload `json:"voice,omitempty"`
}

// RemotePlayer is the node's view of a player.
type RemotePlayer struct {
	GuildID string            `json:"guildId"`
	Track   *RawTrack         `json:"track"`
	Volume  int               `json:"volume"`
	Paused  bool              `json:"paused"`
	State   PlayerUpdateState `json:"state"`
	Voice   struct {
		Token     string `json:"token"`
		Endpoint  string `json:"endpoint"`
		SessionID string `json:"sessionId"`
	} `json:"voice"`
	Filters FilterPayload `json:"filters"`
}

// SessionUpdate is the body of PATCH /sessions/{sessionId}.
type SessionUpdate struct {
	Resuming *bool `json:"resuming,omitempty"`
	Timeout  *int  `json:"timeout,omitempty"`
}

// RoutePlannerStatus is passed through unchanged; its shape depends on the planner class.
type RoutePlannerStatus struct {
	Class   *string        `json:"class"`
	Details map[string]any `json:"details"`
}

// LoadType is normalised to the v4 spelling.
type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

// LoadResult is a version independent /loadtracks result.
type LoadResult struct {
	LoadType  LoadType
	Tracks    []*Track
	Playlist  string
	Exception *Exception
}

type loadResultV4 struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type loadResultV3 struct {
	LoadType     string     `json:"loadType"`
	Tracks       []RawTrack `json:"tracks"`
	PlaylistInfo struct {
		Name string `json:"name"`
	} `json:"playlistInfo"`
	Exception *Exception `json:"exception"`
}

var v3LoadTypes = map[string]LoadType{
	"TRACK_LOADED":    LoadTrack,
	"PLAYLIST_LOADED": LoadPlaylist,
	"SEARCH_RESULT":   LoadSearch,
	"NO_MATCHES":      LoadEmpty,
	"LOAD_FAILED":     LoadError,
}

func decodeLoadResult(version Version, body []byte, requester any) (*LoadResult, error) {
	res := &LoadResult{}
	if version != V4 {
		var raw loadResultV3
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		res.LoadType = v3LoadTypes[raw.LoadType]
		res.Playlist = raw.PlaylistInfo.Name
		res.Exception = raw.Exception
		return res, res.addTracks(raw.Tracks, requester)
	}

	var raw loadResultV4
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	res.LoadType = raw.LoadType
	switch raw.LoadType {
	case LoadTrack:
		var t RawTrack
		if err := json.Unmarshal(raw.Data, &t); err != nil {
			return nil, err
		}
		return res, res.addTracks([]RawTrack{t}, requester)
	case LoadPlaylist:
		var p struct {
			Info struct {
				Name string `json:"name"`
			} `json:"info"`
			Tracks []RawTrack `json:"tracks"`
		}
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return nil, err
		}
		res.Playlist = p.Info.Name
		return res, res.addTracks(p.Tracks, requester)
	case LoadSearch:
		var ts []RawTrack
		if err := json.Unmarshal(raw.Data, &ts); err != nil {
			return nil, err
		}
		return res, res.addTracks(ts, requester)
	case LoadError:
		var e Exception
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return nil, err
		}
		res.Exception = &e
	}
	return res, nil
}

func (r *LoadResult) addTracks(raws []RawTrack, requester any) error {
	for _, raw := range raws {
		t, err := BuildTrack(raw, requester)
		if err != nil {
			return err
		}
		r.Tracks = append(r.Tracks, t)
	}
	return nil
}

// VoiceStatePayload is the gateway op 4 the host sends to join or leave a channel.
type VoiceStatePayload struct {
	Op int                   `json:"op"`
	D  VoiceStatePayloadData `json:"d"`
}

type VoiceStatePayloadData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}
