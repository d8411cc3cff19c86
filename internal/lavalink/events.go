package lavalink

import (
	"slices"
	"sync"
	"time"
)

// Event is anything the Manager emits to the host. Use a type switch on the concrete type.
type Event interface {
	event()
}

type NodeCreateEvent struct{ Node *Node }
type NodeConnectEvent struct{ Node *Node }
type NodeReconnectEvent struct {
	Node    *Node
	Attempt int
}
type NodeDisconnectEvent struct {
	Node   *Node
	Code   int
	Reason string
}
type NodeDestroyEvent struct{ Node *Node }

// NodeErrorEvent reports background failures. Fatal errors precede a node destroy.
type NodeErrorEvent struct {
	Node  *Node
	Err   error
	Fatal bool
}

// NodeRawEvent passes every inbound message through unchanged.
type NodeRawEvent struct {
	Node    *Node
	Payload []byte
}

type PlayerCreateEvent struct{ Player *Player }
type PlayerDestroyEvent struct{ Player *Player }
type PlayerMoveEvent struct {
	Player       *Player
	OldChannelID string
	NewChannelID string
}
type PlayerDisconnectEvent struct {
	Player       *Player
	OldChannelID string
}

type TrackStartEvent struct {
	Player *Player
	Track  QueueEntry
}
type TrackEndEvent struct {
	Player *Player
	Track  QueueEntry
	Reason TrackEndReason
}
type TrackStuckEvent struct {
	Player    *Player
	Track     QueueEntry
	Threshold time.Duration
}

// TrackErrorEvent covers both node exceptions and local resolution failures.
type TrackErrorEvent struct {
	Player    *Player
	Track     QueueEntry
	Exception *Exception
	Err       error
}
type QueueEndEvent struct {
	Player *Player
	Track  QueueEntry
	Reason TrackEndReason
}
type SocketClosedEvent struct {
	Player   *Player
	Code     int
	Reason   string
	ByRemote bool
}

func (NodeCreateEvent) event()       {}
func (NodeConnectEvent) event()      {}
func (NodeReconnectEvent) event()    {}
func (NodeDisconnectEvent) event()   {}
func (NodeDestroyEvent) event()      {}
func (NodeErrorEvent) event()        {}
func (NodeRawEvent) event()          {}
func (PlayerCreateEvent) event()     {}
func (PlayerDestroyEvent) event()    {}
func (PlayerMoveEvent) event()       {}
func (PlayerDisconnectEvent) event() {}
func (TrackStartEvent) event()       {}
func (TrackEndEvent) event()         {}
func (TrackStuckEvent) event()       {}
func (TrackErrorEvent) event()       {}
func (QueueEndEvent) event()         {}
func (SocketClosedEvent) event()     {}

// Listener receives events synchronously on the goroutine that produced them.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// emitter calls listeners in registration order.
type emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listenerEntry
}

func (e *emitter) add(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: l})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.listeners = slices.DeleteFunc(e.listeners, func(le listenerEntry) bool { return le.id == id })
	}
}

// emit must never be called while holding a player or node lock.
func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	ls := slices.Clone(e.listeners)
	e.mu.RUnlock()
	for _, le := range ls {
		le.fn(ev)
	}
}
