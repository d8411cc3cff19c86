package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/lavamux/internal/lavalink"
)

// closeDisconnected is the voice close code sent when the bot was removed from the channel.
const closeDisconnected = 4014

func logEvents(log zerolog.Logger) lavalink.Listener {
	return func(ev lavalink.Event) {
		switch e := ev.(type) {
		case lavalink.NodeConnectEvent:
			log.Info().Str("node", e.Node.Identifier()).Msg("node connected")
		case lavalink.NodeReconnectEvent:
			log.Info().Str("node", e.Node.Identifier()).Int("attempt", e.Attempt).Msg("node reconnecting")
		case lavalink.NodeDisconnectEvent:
			log.Warn().Str("node", e.Node.Identifier()).Int("code", e.Code).Str("reason", e.Reason).Msg("node disconnected")
		case lavalink.NodeErrorEvent:
			evt := log.Warn()
			if e.Fatal {
				evt = log.Error()
			}
			evt.Err(e.Err).Str("node", e.Node.Identifier()).Msg("node error")
		case lavalink.TrackStartEvent:
			log.Info().Str("guild", e.Player.GuildID()).Str("title", e.Track.Title()).Msg("track started")
		case lavalink.TrackErrorEvent:
			log.Warn().Err(e.Err).Str("guild", e.Player.GuildID()).Msg("track failed")
		case lavalink.QueueEndEvent:
			log.Info().Str("guild", e.Player.GuildID()).Msg("queue ended")
		}
	}
}

// destroyOnVoiceClose tears a player down once the node reports it lost the voice connection for good.
func destroyOnVoiceClose(ctx context.Context, log zerolog.Logger) lavalink.Listener {
	return func(ev lavalink.Event) {
		e, ok := ev.(lavalink.SocketClosedEvent)
		if !ok || e.Code != closeDisconnected {
			return
		}
		// listeners run on the node read loop
		go func(p *lavalink.Player) {
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := p.Destroy(dctx, false); err != nil {
				log.Warn().Err(err).Str("guild", p.GuildID()).Msg("destroy after voice close")
			}
		}(e.Player)
	}
}
