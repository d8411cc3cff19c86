package lavalink

// Queue is the ordered pending list plus current/previous pointers owned by a Player.
// Implementations need not be safe for concurrent use; the Player serialises access.
type Queue interface {
	Current() QueueEntry
	SetCurrent(QueueEntry)
	Previous() QueueEntry
	SetPrevious(QueueEntry)

	Add(entries ...QueueEntry)
	Shift() QueueEntry
	Remove(start, end int) []QueueEntry
	Replace(i int, e QueueEntry)
	Clear()

	Len() int
	TotalSize() int
	Tracks() []QueueEntry
}

// NewQueue returns the default slice backed Queue.
func NewQueue() Queue {
	return &sliceQueue{}
}

type sliceQueue struct {
	current  QueueEntry
	previous QueueEntry
	entries  []QueueEntry
}

func (q *sliceQueue) Current() QueueEntry     { return q.current }
func (q *sliceQueue) SetCurrent(e QueueEntry) { q.current = e }

func (q *sliceQueue) Previous() QueueEntry     { return q.previous }
func (q *sliceQueue) SetPrevious(e QueueEntry) { q.previous = e }

func (q *sliceQueue) Add(entries ...QueueEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		if q.current == nil {
			q.current = e
			continue
		}
		q.entries = append(q.entries, e)
	}
}

func (q *sliceQueue) Shift() QueueEntry {
	if len(q.entries) == 0 {
		return nil
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return e
}

// Remove drops entries in [start, end) and returns them.
func (q *sliceQueue) Remove(start, end int) []QueueEntry {
	if start < 0 {
		start = 0
	}
	if end > len(q.entries) {
		end = len(q.entries)
	}
	if start >= end {
		return nil
	}
	removed := append([]QueueEntry(nil), q.entries[start:end]...)
	q.entries = append(q.entries[:start], q.entries[end:]...)
	return removed
}

func (q *sliceQueue) Replace(i int, e QueueEntry) {
	if i < 0 || i >= len(q.entries) {
		return
	}
	q.entries[i] = e
}

func (q *sliceQueue) Clear() {
	q.entries = nil
}

func (q *sliceQueue) Len() int { return len(q.entries) }

func (q *sliceQueue) TotalSize() int {
	n := len(q.entries)
	if q.current != nil {
		n++
	}
	return n
}

func (q *sliceQueue) Tracks() []QueueEntry {
	return append([]QueueEntry(nil), q.entries...)
}
