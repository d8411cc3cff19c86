package lavalink

import (
	"context"
	"time"
)

// positionTicker advances a player's local position between node updates.
// It runs as a job named after the guild so a restart replaces the old loop.
type positionTicker struct {
	p        *Player
	interval time.Duration
}

func (t *positionTicker) name() string {
	return "position:" + t.p.guildID
}

func (t *positionTicker) start() {
	if t.interval <= 0 || t.p.m.jobs.Running(t.name()) {
		return
	}
	_, _ = t.p.m.jobs.Start(t.name(), t.run)
}

// restart drops the current tick phase and counts from now.
func (t *positionTicker) restart() {
	if t.interval <= 0 {
		return
	}
	t.p.m.jobs.Restart(t.name(), t.run)
}

func (t *positionTicker) run(ctx context.Context) error {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if ctx.Err() != nil || !t.p.tick(t.interval) {
				return nil
			}
		}
	}
}

func (t *positionTicker) stop() {
	t.p.m.jobs.Stop(t.name())
}

// tick advances the position by d. It reports false once the player is gone,
// so a stray tick after destroy ends the loop without touching anything.
func (p *Player) tick(d time.Duration) bool {
	if p.m.Player(p.guildID) != p {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	if p.playing && !p.paused {
		p.position += d
		if t, ok := p.queue.Current().(*Track); ok && t.Duration() > 0 && p.position > t.Duration() {
			p.position = t.Duration()
		}
	}
	if p.filterTicks > 0 {
		p.filterTicks++
	}
	return true
}

// onPlayerUpdate applies a playerUpdate push. Snapshots taken before the last
// local position change are ignored for position, everything else still applies.
func (p *Player) onPlayerUpdate(ctx context.Context, st PlayerUpdateState) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	if p.createdAt.IsZero() {
		p.createdAt = time.Now()
	}
	p.remoteUp = st.Connected
	p.ping = time.Duration(st.Ping) * time.Millisecond

	serverTime := time.UnixMilli(st.Time)
	if p.lastCommand.IsZero() || !serverTime.Before(p.lastCommand) {
		p.position = time.Duration(st.Position) * time.Millisecond
	} else {
		p.log.Trace().Time("server_time", serverTime).Time("last_command", p.lastCommand).Msg("stale player update ignored")
	}

	resync := false
	if p.ticker.interval > 0 && p.filterTicks >= p.m.opts.FilterResyncTicks {
		p.filterTicks = 0
		resync = shouldResync(p.queue.Current())
	}
	pos := p.position
	p.mu.Unlock()

	p.ticker.restart()
	if resync {
		if err := p.Seek(ctx, pos); err != nil {
			p.log.Debug().Err(err).Msg("filter resync seek failed")
		}
	}
}
