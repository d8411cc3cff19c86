package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
)

// Gateway dispatch names the bridge understands.
const (
	VoiceServerUpdate = "VOICE_SERVER_UPDATE"
	VoiceStateUpdate  = "VOICE_STATE_UPDATE"
)

// VoiceServer is the token and endpoint half of a voice session.
type VoiceServer struct {
	GuildID  string `json:"guild_id"`
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// VoiceState is the session half. An empty ChannelID means the user left voice.
type VoiceState struct {
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
}

// VoiceBridge combines the two gateway voice packets and forwards them to the player's node.
type VoiceBridge struct {
	m *Manager
}

func newVoiceBridge(m *Manager) *VoiceBridge {
	return &VoiceBridge{m: m}
}

// HandlePacket accepts a raw gateway dispatch ({"t": ..., "d": ...}) and routes
// voice packets. Anything else is ignored.
func (b *VoiceBridge) HandlePacket(ctx context.Context, data []byte) error {
	var env struct {
		T string          `json:"t"`
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode gateway packet: %w", err)
	}

	switch env.T {
	case VoiceServerUpdate:
		var vs VoiceServer
		if err := json.Unmarshal(env.D, &vs); err != nil {
			return fmt.Errorf("decode voice server: %w", err)
		}
		return b.UpdateVoiceServer(ctx, vs)
	case VoiceStateUpdate:
		var vs struct {
			VoiceState
			ChannelID *string `json:"channel_id"`
		}
		if err := json.Unmarshal(env.D, &vs); err != nil {
			return fmt.Errorf("decode voice state: %w", err)
		}
		st := vs.VoiceState
		st.ChannelID = ""
		if vs.ChannelID != nil {
			st.ChannelID = *vs.ChannelID
		}
		return b.UpdateVoiceState(ctx, st)
	}
	return nil
}

// UpdateVoiceServer merges a token and endpoint into the guild's voice session.
func (b *VoiceBridge) UpdateVoiceServer(ctx context.Context, vs VoiceServer) error {
	p := b.m.Player(vs.GuildID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	p.voice.Token = vs.Token
	p.voice.Endpoint = vs.Endpoint
	p.voiceSent = false
	p.mu.Unlock()
	return b.forward(ctx, p)
}

// UpdateVoiceState tracks channel moves and disconnects of the bot user.
// States of other users are ignored.
func (b *VoiceBridge) UpdateVoiceState(ctx context.Context, vs VoiceState) error {
	if vs.UserID != b.m.opts.ClientID {
		return nil
	}
	p := b.m.Player(vs.GuildID)
	if p == nil {
		return nil
	}

	if vs.ChannelID == "" {
		p.mu.Lock()
		old := p.voiceChannelID
		p.voiceChannelID = ""
		p.voice = VoiceSession{}
		p.voiceSent = false
		p.state = PlayerDisconnected
		p.mu.Unlock()

		p.log.Info().Str("channel", old).Msg("voice disconnected")
		b.m.emit(PlayerDisconnectEvent{Player: p, OldChannelID: old})
		return p.Pause(ctx, true)
	}

	p.mu.Lock()
	old := p.voiceChannelID
	p.voiceChannelID = vs.ChannelID
	if p.voice.SessionID != vs.SessionID {
		p.voice.SessionID = vs.SessionID
		p.voiceSent = false
	}
	p.state = PlayerConnected
	p.mu.Unlock()

	if old != vs.ChannelID {
		p.log.Info().Str("from", old).Str("to", vs.ChannelID).Msg("moved")
		b.m.emit(PlayerMoveEvent{Player: p, OldChannelID: old, NewChannelID: vs.ChannelID})
	}
	return b.forward(ctx, p)
}

// forward sends the voice session once all of token, endpoint and session id are known.
// A node with a session takes a partial player update; older nodes get one combined voiceUpdate op.
func (b *VoiceBridge) forward(ctx context.Context, p *Player) error {
	p.mu.Lock()
	v := p.voice
	if !v.complete() || p.voiceSent || p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.voiceSent = true
	p.mu.Unlock()

	err := p.update(ctx, UpdatePlayer{Voice: &VoiceServerPayload{
		Token:     v.Token,
		Endpoint:  v.Endpoint,
		SessionID: v.SessionID,
	}}, false)
	if err != nil {
		p.mu.Lock()
		p.voiceSent = false
		p.mu.Unlock()
		return err
	}
	p.log.Debug().Str("endpoint", v.Endpoint).Msg("voice session forwarded")
	return nil
}
