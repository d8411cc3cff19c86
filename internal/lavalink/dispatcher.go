package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// handleMessage routes one inbound socket message. It runs on the node's read
// goroutine, so messages from one node are handled in arrival order.
func (n *Node) handleMessage(data []byte) {
	n.m.emit(NodeRawEvent{Node: n, Payload: data})

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		n.log.Warn().Err(err).Msg("malformed message")
		n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("malformed message: %w", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.RequestTimeout)
	defer cancel()

	switch msg.Op {
	case OpStats:
		var s Stats
		if err := json.Unmarshal(data, &s); err != nil {
			n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("decode stats: %w", err)})
			return
		}
		n.mu.Lock()
		n.stats = s
		n.mu.Unlock()

	case OpPlayerUpdate:
		var u playerUpdateMessage
		if err := json.Unmarshal(data, &u); err != nil {
			n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("decode player update: %w", err)})
			return
		}
		if p := n.m.Player(u.GuildID); p != nil {
			p.onPlayerUpdate(ctx, u.State)
		}

	case OpEvent:
		var ev eventMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("decode event: %w", err)})
			return
		}
		n.handleEvent(ctx, ev)

	case OpReady:
		var r readyMessage
		if err := json.Unmarshal(data, &r); err != nil {
			n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("decode ready: %w", err)})
			return
		}
		n.onReady(r)

	default:
		n.log.Warn().Str("op", msg.Op).Msg("unknown op")
		n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("%w: %q", ErrUnknownOp, msg.Op)})
	}
}

func (n *Node) onReady(r readyMessage) {
	n.mu.Lock()
	n.sessionID = r.SessionID
	n.mu.Unlock()
	n.saveSession()
	n.log.Info().Str("session", r.SessionID).Bool("resumed", r.Resumed).Msg("ready")

	if n.opts.ResumeTimeout > 0 {
		go n.configureResuming()
	}
}

// configureResuming asks the node to keep the session alive across disconnects.
func (n *Node) configureResuming() {
	timeout := int(n.opts.ResumeTimeout / time.Second)

	var err error
	if n.opts.Version == V4 {
		ctx, cancel := context.WithTimeout(context.Background(), n.opts.RequestTimeout)
		defer cancel()
		resuming := true
		err = n.UpdateSession(ctx, SessionUpdate{Resuming: &resuming, Timeout: &timeout})
	} else {
		n.mu.RLock()
		key := n.resumeKey
		n.mu.RUnlock()
		err = n.Send(map[string]any{"op": "configureResuming", "key": key, "timeout": timeout})
	}
	if err != nil {
		n.log.Warn().Err(err).Msg("configure resuming failed")
		n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("configure resuming: %w", err)})
	}
}

func (n *Node) handleEvent(ctx context.Context, ev eventMessage) {
	p := n.m.Player(ev.GuildID)
	if p == nil {
		n.log.Debug().Str("guild", ev.GuildID).Str("type", ev.Type).Msg("event for unknown player")
		return
	}

	switch ev.Type {
	case TrackStartEventType:
		p.onTrackStart(ctx)

	case TrackEndEventType:
		p.onTrackEnd(ctx, ParseTrackEndReason(ev.Reason))

	case TrackStuckEventType:
		n.m.emit(TrackStuckEvent{Player: p, Track: p.Current(), Threshold: time.Duration(ev.ThresholdMs) * time.Millisecond})
		if err := p.Stop(ctx, 0); err != nil {
			p.log.Warn().Err(err).Msg("stop after stuck track failed")
		}

	case TrackExceptionEventType:
		exc := ev.Exception
		if exc == nil && ev.Error != "" {
			exc = &Exception{Message: ev.Error}
		}
		n.m.emit(TrackErrorEvent{Player: p, Track: p.Current(), Exception: exc})
		if err := p.Stop(ctx, 0); err != nil {
			p.log.Warn().Err(err).Msg("stop after track exception failed")
		}

	case WebSocketClosedType:
		p.log.Warn().Int("code", ev.Code).Str("reason", ev.Reason).Bool("by_remote", ev.ByRemote).Msg("voice socket closed")
		n.m.emit(SocketClosedEvent{Player: p, Code: ev.Code, Reason: ev.Reason, ByRemote: ev.ByRemote})

	default:
		n.m.emit(NodeErrorEvent{Node: n, Err: fmt.Errorf("%w: event type %q", ErrUnknownOp, ev.Type)})
	}
}

// onTrackStart applies the options held back by Play, then notifies listeners.
func (p *Player) onTrackStart(ctx context.Context) {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	pending := p.pending
	p.pending = nil
	track := p.queue.Current()
	p.mu.Unlock()

	if pending != nil {
		if pending.Volume != nil {
			if err := p.SetVolume(ctx, *pending.Volume); err != nil {
				p.log.Warn().Err(err).Msg("apply start volume failed")
			}
		}
		if pending.Paused != nil && *pending.Paused {
			if err := p.Pause(ctx, true); err != nil {
				p.log.Warn().Err(err).Msg("apply start pause failed")
			}
		}
		if pending.StartTime > 0 {
			if err := p.Seek(ctx, pending.StartTime); err != nil {
				p.log.Warn().Err(err).Msg("apply start time failed")
			}
		}
	}

	p.ticker.start()
	p.m.emit(TrackStartEvent{Player: p, Track: track})
}

// onTrackEnd advances the queue according to the end reason and repeat modes.
func (p *Player) onTrackEnd(ctx context.Context, reason TrackEndReason) {
	p.mu.Lock()
	track := p.queue.Current()
	ev, autoplay := p.advance(track, reason)
	p.mu.Unlock()

	p.m.emit(ev)
	if !autoplay {
		return
	}
	if err := p.Play(ctx, PlayOptions{}); err != nil {
		p.log.Warn().Err(err).Msg("autoplay failed")
	}
}

// advance runs under p.mu and returns the event to emit.
func (p *Player) advance(track QueueEntry, reason TrackEndReason) (Event, bool) {
	q := p.queue
	autoplay := p.m.opts.AutoPlay
	end := TrackEndEvent{Player: p, Track: track, Reason: reason}

	queueEnd := func() (Event, bool) {
		q.SetCurrent(nil)
		p.playing = false
		p.position = 0
		p.ticker.stop()
		return QueueEndEvent{Player: p, Track: track, Reason: reason}, false
	}
	next := func() {
		q.SetPrevious(q.Current())
		q.SetCurrent(q.Shift())
	}

	if reason == ReasonReplaced {
		return end, false
	}
	p.position = 0
	if !autoplay {
		p.playing = false
	}

	switch {
	case reason == ReasonLoadFailed || reason == ReasonCleanup:
		next()
		if q.Current() == nil {
			return queueEnd()
		}
		return end, autoplay

	case track != nil && p.trackRepeat:
		if reason == ReasonStopped {
			next()
			if q.Current() == nil {
				return queueEnd()
			}
		}
		return end, autoplay

	case track != nil && p.queueRepeat:
		q.SetPrevious(q.Current())
		if reason == ReasonStopped {
			q.SetCurrent(q.Shift())
			if q.Current() == nil {
				return queueEnd()
			}
		} else {
			q.Add(q.Current())
			q.SetCurrent(q.Shift())
		}
		return end, autoplay

	case q.Len() > 0:
		next()
		return end, autoplay
	}
	return queueEnd()
}
