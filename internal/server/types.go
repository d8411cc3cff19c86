package server

import (
	"github.com/keshon/lavamux/internal/lavalink"
)

type NodeView struct {
	ID                string         `json:"id"`
	State             string         `json:"state"`
	Version           string         `json:"version"`
	SessionID         string         `json:"sessionId,omitempty"`
	Calls             int64          `json:"calls"`
	ReconnectAttempts int            `json:"reconnectAttempts"`
	Regions           []string       `json:"regions,omitempty"`
	Stats             lavalink.Stats `json:"stats"`
	LoadPercent       float64        `json:"loadPercent"`
}

type TrackView struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	DurationMs int64  `json:"durationMs"`
	URI        string `json:"uri,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Resolved   bool   `json:"resolved"`
}

type PlayerView struct {
	GuildID        string      `json:"guildId"`
	Node           string      `json:"node"`
	State          string      `json:"state"`
	VoiceChannelID string      `json:"voiceChannelId,omitempty"`
	TextChannelID  string      `json:"textChannelId,omitempty"`
	Playing        bool        `json:"playing"`
	Paused         bool        `json:"paused"`
	Volume         int         `json:"volume"`
	PositionMs     int64       `json:"positionMs"`
	PingMs         int64       `json:"pingMs"`
	TrackRepeat    bool        `json:"trackRepeat"`
	QueueRepeat    bool        `json:"queueRepeat"`
	Current        *TrackView  `json:"current,omitempty"`
	Queue          []TrackView `json:"queue"`
	Filters        []string    `json:"filters"`
}

func nodeView(n *lavalink.Node) NodeView {
	stats := n.Stats()
	return NodeView{
		ID:                n.Identifier(),
		State:             n.State().String(),
		Version:           string(n.Version()),
		SessionID:         n.SessionID(),
		Calls:             n.Calls(),
		ReconnectAttempts: n.ReconnectAttempts(),
		Regions:           n.Regions(),
		Stats:             stats,
		LoadPercent:       stats.LoadPercent(),
	}
}

func trackView(e lavalink.QueueEntry) TrackView {
	v := TrackView{Title: e.Title(), Author: e.Author(), DurationMs: e.Duration().Milliseconds()}
	if t, ok := e.(*lavalink.Track); ok {
		v.URI = t.URI
		v.Thumbnail = t.Thumbnail("hqdefault")
		v.Resolved = true
	}
	return v
}

func playerView(p *lavalink.Player) PlayerView {
	v := PlayerView{
		GuildID:        p.GuildID(),
		Node:           p.Node().Identifier(),
		State:          p.State().String(),
		VoiceChannelID: p.VoiceChannelID(),
		TextChannelID:  p.TextChannelID(),
		Playing:        p.Playing(),
		Paused:         p.Paused(),
		Volume:         p.Volume(),
		PositionMs:     p.Position().Milliseconds(),
		PingMs:         p.Ping().Milliseconds(),
		TrackRepeat:    p.TrackRepeat(),
		QueueRepeat:    p.QueueRepeat(),
		Queue:          []TrackView{},
		Filters:        []string{},
	}
	p.WithQueue(func(q lavalink.Queue) {
		if cur := q.Current(); cur != nil {
			tv := trackView(cur)
			v.Current = &tv
		}
		for _, e := range q.Tracks() {
			v.Queue = append(v.Queue, trackView(e))
		}
	})
	filters := p.Filters()
	for _, name := range filters.Active() {
		v.Filters = append(v.Filters, string(name))
	}
	return v
}
