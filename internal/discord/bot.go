package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/lavamux/internal/lavalink"
)

var ErrNotReady = errors.New("discord session is not ready")

const handlerTimeout = 10 * time.Second

// VoiceHandler receives voice gateway updates.
type VoiceHandler interface {
	UpdateVoiceServer(ctx context.Context, vs lavalink.VoiceServer) error
	UpdateVoiceState(ctx context.Context, vs lavalink.VoiceState) error
}

// Bot owns the gateway session and relays voice updates to the player manager.
type Bot struct {
	dg  *discordgo.Session
	log zerolog.Logger

	mu      sync.RWMutex
	voice   VoiceHandler
	userID  string
	isReady bool

	readyOnce sync.Once
	ready     chan struct{}
}

func New(token string, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b := &Bot{
		dg:    dg,
		log:   log.With().Str("component", "discord").Logger(),
		ready: make(chan struct{}),
	}
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onVoiceServerUpdate)
	dg.AddHandler(b.onVoiceStateUpdate)
	dg.AddHandler(b.onDisconnect)
	return b, nil
}

// Open connects to the gateway and waits for READY. It returns the bot user id.
func (b *Bot) Open(ctx context.Context) (string, error) {
	if err := b.dg.Open(); err != nil {
		return "", fmt.Errorf("failed to open Discord session: %w", err)
	}
	select {
	case <-b.ready:
	case <-ctx.Done():
		b.dg.Close()
		return "", ctx.Err()
	}
	return b.UserID(), nil
}

func (b *Bot) Close() error {
	b.mu.Lock()
	b.isReady = false
	b.mu.Unlock()
	return b.dg.Close()
}

// Attach routes subsequent voice updates to h.
func (b *Bot) Attach(h VoiceHandler) {
	b.mu.Lock()
	b.voice = h
	b.mu.Unlock()
}

func (b *Bot) UserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID
}

// Send writes a voice state update (gateway op 4). It satisfies lavalink.SendFunc.
func (b *Bot) Send(guildID string, payload lavalink.VoiceStatePayload) error {
	b.mu.RLock()
	ready := b.isReady
	b.mu.RUnlock()
	if !ready {
		return ErrNotReady
	}

	channelID := ""
	if payload.D.ChannelID != nil {
		channelID = *payload.D.ChannelID
	}
	if payload.D.GuildID != "" {
		guildID = payload.D.GuildID
	}
	b.log.Debug().Str("guild", guildID).Str("channel", channelID).Msg("voice state update")
	return b.dg.ChannelVoiceJoinManual(guildID, channelID, payload.D.SelfMute, payload.D.SelfDeaf)
}

func (b *Bot) handler() VoiceHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.voice
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	if r.User != nil {
		b.userID = r.User.ID
	}
	b.isReady = true
	b.mu.Unlock()

	b.log.Info().Str("user", b.UserID()).Int("guilds", len(r.Guilds)).Msg("gateway ready")
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Bot) onDisconnect(s *discordgo.Session, _ *discordgo.Disconnect) {
	b.mu.Lock()
	b.isReady = false
	b.mu.Unlock()
	b.log.Warn().Msg("gateway disconnected")
}

func (b *Bot) onVoiceServerUpdate(s *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	h := b.handler()
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	err := h.UpdateVoiceServer(ctx, lavalink.VoiceServer{GuildID: e.GuildID, Token: e.Token, Endpoint: e.Endpoint})
	if err != nil {
		b.log.Error().Err(err).Str("guild", e.GuildID).Msg("voice server update failed")
	}
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	h := b.handler()
	if h == nil || e.VoiceState == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	vs := lavalink.VoiceState{
		GuildID:   e.GuildID,
		UserID:    e.UserID,
		ChannelID: e.ChannelID,
		SessionID: e.SessionID,
	}
	if err := h.UpdateVoiceState(ctx, vs); err != nil {
		b.log.Error().Err(err).Str("guild", e.GuildID).Msg("voice state update failed")
	}
}
