package lavalink

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PlayerState is the voice connection state of a Player.
type PlayerState int

const (
	PlayerDisconnected PlayerState = iota
	PlayerConnecting
	PlayerConnected
	PlayerDisconnecting
	PlayerDestroying
)

func (s PlayerState) String() string {
	switch s {
	case PlayerDisconnected:
		return "disconnected"
	case PlayerConnecting:
		return "connecting"
	case PlayerConnected:
		return "connected"
	case PlayerDisconnecting:
		return "disconnecting"
	case PlayerDestroying:
		return "destroying"
	}
	return "unknown"
}

// Tracks longer than this, unless local, are not resynced after filter changes.
const longTrack = 2 * time.Hour

// PlayerOptions creates a Player. GuildID is required.
type PlayerOptions struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Region         string
	SelfMute       bool
	SelfDeaf       bool
	Volume         int
	// Node pins the player to a node instead of selecting one.
	Node string
}

// PlayOptions tunes a Play call. Paused, Volume and StartTime are applied once the node reports the track started.
type PlayOptions struct {
	Track     QueueEntry
	StartTime time.Duration
	EndTime   time.Duration
	NoReplace bool
	Paused    *bool
	Volume    *int
}

// VoiceSession is what the node needs to join the guild's voice server.
type VoiceSession struct {
	Token     string
	Endpoint  string
	SessionID string
}

func (v VoiceSession) complete() bool {
	return v.Token != "" && v.Endpoint != "" && v.SessionID != ""
}

// Player mirrors the remote player of one guild.
type Player struct {
	m       *Manager
	node    *Node
	guildID string
	log     zerolog.Logger
	ticker  *positionTicker

	mu             sync.Mutex
	state          PlayerState
	voiceChannelID string
	textChannelID  string
	selfMute       bool
	selfDeaf       bool
	queue          Queue
	trackRepeat    bool
	queueRepeat    bool
	playing        bool
	paused         bool
	volume         int
	position       time.Duration
	filters        Filters
	voice          VoiceSession
	voiceSent      bool
	remoteUp       bool
	ping           time.Duration
	createdAt      time.Time
	lastLatency    time.Duration
	pending        *PlayOptions
	filterTicks    int
	lastCommand    time.Time
	destroyed      bool
}

func newPlayer(m *Manager, node *Node, opts PlayerOptions) *Player {
	volume := opts.Volume
	if volume <= 0 {
		volume = 100
	}
	p := &Player{
		m:              m,
		node:           node,
		guildID:        opts.GuildID,
		log:            m.log.With().Str("component", "player").Str("guild", opts.GuildID).Logger(),
		voiceChannelID: opts.VoiceChannelID,
		textChannelID:  opts.TextChannelID,
		selfMute:       opts.SelfMute,
		selfDeaf:       opts.SelfDeaf,
		queue:          m.opts.NewQueue(),
		volume:         clampVolume(volume, m.opts.MaxVolume),
		filters:        Filters{AudioOutput: OutputStereo},
	}
	p.ticker = &positionTicker{p: p, interval: m.opts.PositionUpdateInterval}
	return p
}

func (p *Player) GuildID() string { return p.guildID }
func (p *Player) Node() *Node     { return p.node }

func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) VoiceChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

func (p *Player) TextChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textChannelID
}

func (p *Player) SetTextChannel(id string) {
	p.mu.Lock()
	p.textChannelID = id
	p.mu.Unlock()
}

// SetVoiceChannel changes the channel the next Connect joins.
func (p *Player) SetVoiceChannel(id string) {
	p.mu.Lock()
	p.voiceChannelID = id
	p.mu.Unlock()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position is the last reported or interpolated playback position.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player) TrackRepeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trackRepeat
}

func (p *Player) QueueRepeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueRepeat
}

// Ping is the node's last reported voice gateway ping.
func (p *Player) Ping() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ping
}

// RemoteConnected is the node's last reported voice connection flag.
func (p *Player) RemoteConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteUp
}

// LastLatency is the round trip of the last REST update.
func (p *Player) LastLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLatency
}

// CreatedAt is when the first player update arrived, or the zero time.
func (p *Player) CreatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createdAt
}

func (p *Player) Voice() VoiceSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voice
}

// Filters returns a copy of the filter configuration.
func (p *Player) Filters() Filters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters.clone()
}

// WithQueue runs fn with exclusive access to the queue.
func (p *Player) WithQueue(fn func(q Queue)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.queue)
}

// Current is the entry being played, or nil.
func (p *Player) Current() QueueEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Current()
}

// Add validates and appends entries. The first entry becomes current when nothing is.
func (p *Player) Add(entries ...QueueEntry) error {
	for _, e := range entries {
		if !validEntry(e) {
			return ErrInvalidTrack
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Add(entries...)
	return nil
}

// SetTrackRepeat enables single track repeat and disables queue repeat.
func (p *Player) SetTrackRepeat(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackRepeat = on
	if on {
		p.queueRepeat = false
	}
}

// SetQueueRepeat enables queue repeat and disables track repeat.
func (p *Player) SetQueueRepeat(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueRepeat = on
	if on {
		p.trackRepeat = false
	}
}

// Connect asks the host to join the configured voice channel.
func (p *Player) Connect() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.voiceChannelID == "" {
		p.mu.Unlock()
		return ErrNoVoiceChannel
	}
	p.state = PlayerConnecting
	channel := p.voiceChannelID
	payload := VoiceStatePayload{Op: 4, D: VoiceStatePayloadData{
		GuildID:   p.guildID,
		ChannelID: &channel,
		SelfMute:  p.selfMute,
		SelfDeaf:  p.selfDeaf,
	}}
	p.mu.Unlock()

	if err := p.m.opts.Send(p.guildID, payload); err != nil {
		p.setState(PlayerDisconnected)
		return err
	}
	p.setState(PlayerConnected)
	p.log.Debug().Str("channel", channel).Msg("voice join requested")
	return nil
}

// Disconnect pauses playback and asks the host to leave the voice channel.
func (p *Player) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.voiceChannelID == "" {
		p.mu.Unlock()
		return nil
	}
	p.state = PlayerDisconnecting
	p.mu.Unlock()

	if err := p.Pause(ctx, true); err != nil && !errors.Is(err, ErrPlayerDestroyed) {
		p.log.Warn().Err(err).Msg("pause before disconnect failed")
	}

	err := p.m.opts.Send(p.guildID, VoiceStatePayload{Op: 4, D: VoiceStatePayloadData{GuildID: p.guildID}})

	p.mu.Lock()
	p.voiceChannelID = ""
	p.voice = VoiceSession{}
	p.voiceSent = false
	p.state = PlayerDisconnected
	p.mu.Unlock()
	return err
}

// Destroy tears the player down locally and on the node. It cannot be undone.
func (p *Player) Destroy(ctx context.Context, disconnect bool) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.state = PlayerDestroying
	p.mu.Unlock()

	var errs []error
	if disconnect {
		if err := p.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if p.node.SessionID() != "" {
		if err := p.node.DestroyPlayer(ctx, p.guildID); err != nil {
			errs = append(errs, err)
		}
	} else if err := p.node.Send(map[string]any{"op": "destroy", "guildId": p.guildID}); err != nil && !errors.Is(err, ErrNotConnected) {
		errs = append(errs, err)
	}

	p.destroyLocal()
	return errors.Join(errs...)
}

// destroyLocal releases local state without talking to the node.
func (p *Player) destroyLocal() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.state = PlayerDestroying
	p.playing = false
	p.mu.Unlock()

	p.ticker.stop()
	p.m.removePlayer(p)
	p.log.Info().Msg("player destroyed")
	p.m.emit(PlayerDestroyEvent{Player: p})
}

func (p *Player) setState(s PlayerState) {
	p.mu.Lock()
	if !p.destroyed {
		p.state = s
	}
	p.mu.Unlock()
}

// Play starts the given entry, or the current one when opts.Track is nil.
// Unresolved entries are resolved first; a failed lookup emits a TrackErrorEvent
// and moves on to the next queued entry.
func (p *Player) Play(ctx context.Context, opts PlayOptions) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if opts.Track != nil {
		if !validEntry(opts.Track) {
			p.mu.Unlock()
			return ErrInvalidTrack
		}
		if cur := p.queue.Current(); cur != nil {
			p.queue.SetPrevious(cur)
		}
		p.queue.SetCurrent(opts.Track)
	}
	entry := p.queue.Current()
	p.mu.Unlock()

	if entry == nil {
		return ErrNoCurrentTrack
	}

	track, ok := entry.(*Track)
	if !ok {
		resolved, err := p.resolve(ctx, entry.(*UnresolvedTrack))
		if err != nil {
			p.m.emit(TrackErrorEvent{Player: p, Track: entry, Err: err})
			p.mu.Lock()
			next := p.queue.Shift()
			p.queue.SetCurrent(next)
			p.mu.Unlock()
			if next == nil {
				return err
			}
			opts.Track = nil
			return p.Play(ctx, opts)
		}
		track = resolved
	}

	body := UpdatePlayer{Track: &UpdatePlayerTrack{Encoded: &track.Encoded}}
	if opts.EndTime > 0 {
		end := opts.EndTime.Milliseconds()
		body.EndTime = &end
	}

	p.mu.Lock()
	pending := opts
	pending.Track = nil
	p.pending = &pending
	p.playing = true
	p.paused = false
	p.position = 0
	p.lastCommand = time.Now()
	p.mu.Unlock()

	p.log.Debug().Str("title", track.Title()).Str("source", track.SourceName).Msg("play")
	return p.update(ctx, body, opts.NoReplace)
}

// resolve swaps the unresolved current entry for its resolved track.
func (p *Player) resolve(ctx context.Context, u *UnresolvedTrack) (*Track, error) {
	t, err := p.m.resolver.Resolve(ctx, u)
	if err != nil {
		return nil, err
	}
	if t.requester == nil {
		t.requester = u.requester
	}
	p.mu.Lock()
	if p.queue.Current() == u {
		p.queue.SetCurrent(t)
	}
	p.mu.Unlock()
	return t, nil
}

// Pause is a no-op when the paused flag would not change or nothing is queued.
func (p *Player) Pause(ctx context.Context, pause bool) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.paused == pause || p.queue.TotalSize() == 0 {
		p.mu.Unlock()
		return nil
	}
	p.paused = pause
	p.playing = !pause
	p.mu.Unlock()

	if pause {
		p.ticker.stop()
	}
	return p.update(ctx, UpdatePlayer{Paused: &pause}, false)
}

// Seek moves the current track to pos, clamped to its duration.
func (p *Player) Seek(ctx context.Context, pos time.Duration) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	t, ok := p.queue.Current().(*Track)
	if !ok || t == nil {
		p.mu.Unlock()
		return ErrNoCurrentTrack
	}
	if !t.Seekable {
		p.mu.Unlock()
		return ErrNotSeekable
	}
	if pos < 0 {
		pos = 0
	}
	if d := t.Duration(); d > 0 && pos > d {
		pos = d
	}
	p.position = pos
	p.lastCommand = time.Now()
	p.mu.Unlock()

	ms := pos.Milliseconds()
	return p.update(ctx, UpdatePlayer{Position: &ms}, false)
}

// SetVolume clamps v to the allowed range. The node receives the value scaled by the decrementer.
func (p *Player) SetVolume(ctx context.Context, v int) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	v = clampVolume(v, p.m.opts.MaxVolume)
	p.volume = v
	p.mu.Unlock()

	sent := int(math.Round(float64(v) * p.m.opts.VolumeDecrementer))
	return p.update(ctx, UpdatePlayer{Volume: &sent}, false)
}

func clampVolume(v, maxVolume int) int {
	return min(max(v, 0), maxVolume)
}

// Stop ends the current track. With amount > 1 the next amount-1 queued entries are dropped first.
func (p *Player) Stop(ctx context.Context, amount int) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if amount > 1 {
		p.queue.Remove(0, amount-1)
	}
	p.mu.Unlock()

	return p.update(ctx, UpdatePlayer{Track: &UpdatePlayerTrack{Encoded: nil}}, false)
}

// update sends a partial player update: REST when the node has a session,
// otherwise the equivalent legacy socket ops.
func (p *Player) update(ctx context.Context, body UpdatePlayer, noReplace bool) error {
	if p.node.SessionID() == "" {
		return p.pushLegacy(body, noReplace)
	}

	start := time.Now()
	_, err := p.node.UpdatePlayer(ctx, p.guildID, body, noReplace)
	if err != nil {
		p.log.Warn().Err(err).Msg("player update failed")
		return err
	}
	p.mu.Lock()
	p.lastLatency = time.Since(start)
	p.mu.Unlock()
	return nil
}

func (p *Player) pushLegacy(body UpdatePlayer, noReplace bool) error {
	p.node.warnLegacy()

	var ops []map[string]any
	op := func(name string, fields map[string]any) {
		fields["op"] = name
		fields["guildId"] = p.guildID
		ops = append(ops, fields)
	}

	if body.Voice != nil {
		op("voiceUpdate", map[string]any{
			"sessionId": body.Voice.SessionID,
			"event": map[string]any{
				"token":    body.Voice.Token,
				"guild_id": p.guildID,
				"endpoint": body.Voice.Endpoint,
			},
		})
	}
	if body.Track != nil {
		if body.Track.Encoded == nil {
			op("stop", map[string]any{})
		} else {
			fields := map[string]any{"track": *body.Track.Encoded, "noReplace": noReplace}
			if body.EndTime != nil {
				fields["endTime"] = *body.EndTime
			}
			op("play", fields)
		}
	}
	if body.Paused != nil {
		op("pause", map[string]any{"pause": *body.Paused})
	}
	if body.Position != nil {
		op("seek", map[string]any{"position": *body.Position})
	}
	if body.Volume != nil {
		op("volume", map[string]any{"volume": *body.Volume})
	}
	if body.Filters != nil {
		op("filters", legacyFilterFields(body.Filters))
	}

	for _, o := range ops {
		if err := p.node.Send(o); err != nil {
			return err
		}
	}
	return nil
}

func legacyFilterFields(f *FilterPayload) map[string]any {
	fields := map[string]any{"equalizer": f.Equalizer}
	set := func(key string, v any, ok bool) {
		if ok {
			fields[key] = v
		}
	}
	set("karaoke", f.Karaoke, f.Karaoke != nil)
	set("timescale", f.Timescale, f.Timescale != nil)
	set("tremolo", f.Tremolo, f.Tremolo != nil)
	set("vibrato", f.Vibrato, f.Vibrato != nil)
	set("rotation", f.Rotation, f.Rotation != nil)
	set("channelMix", f.ChannelMix, f.ChannelMix != nil)
	set("lowPass", f.LowPass, f.LowPass != nil)
	set("echo", f.Echo, f.Echo != nil)
	return fields
}

// shouldResync reports whether the current track tolerates a resync seek.
func shouldResync(e QueueEntry) bool {
	t, ok := e.(*Track)
	if !ok || t == nil || !t.Seekable || t.Stream {
		return false
	}
	return !(t.Duration() > longTrack && t.SourceName != "local")
}
