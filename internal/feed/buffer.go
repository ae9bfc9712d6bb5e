package feed

import "github.com/oremus-labs/ol-ops-console/internal/events"

type entry struct {
	seq uint64
	evt events.Event
}

// Buffer is a bounded, arrival-ordered list of recent events. When full the
// oldest arrival is evicted first, regardless of event timestamps.
//
// Buffer is not safe for concurrent use; a Subscription owns exactly one.
type Buffer struct {
	capacity int
	entries  []entry
	seq      uint64
}

// NewBuffer returns an empty buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = BufferSize
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]entry, 0, capacity),
	}
}

// Append adds events in order and trims the oldest arrivals beyond capacity.
func (b *Buffer) Append(evts ...events.Event) {
	for _, evt := range evts {
		b.seq++
		b.entries = append(b.entries, entry{seq: b.seq, evt: evt})
	}
	b.trim()
}

// Replace discards the current contents and seeds the buffer with evts,
// keeping only the last capacity entries.
func (b *Buffer) Replace(evts []events.Event) {
	b.entries = b.entries[:0]
	if len(evts) > b.capacity {
		evts = evts[len(evts)-b.capacity:]
	}
	b.Append(evts...)
}

func (b *Buffer) trim() {
	if over := len(b.entries) - b.capacity; over > 0 {
		n := copy(b.entries, b.entries[over:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
	}
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Seq returns the arrival sequence of the most recent append.
func (b *Buffer) Seq() uint64 {
	return b.seq
}

// All returns a copy of every buffered event in arrival order.
func (b *Buffer) All() []events.Event {
	return b.Recent(len(b.entries))
}

// Recent returns the last n events, oldest first.
func (b *Buffer) Recent(n int) []events.Event {
	if n > len(b.entries) {
		n = len(b.entries)
	}
	if n <= 0 {
		return []events.Event{}
	}
	out := make([]events.Event, n)
	for i, e := range b.entries[len(b.entries)-n:] {
		out[i] = e.evt
	}
	return out
}

// Since returns the events that arrived after seq, in arrival order.
func (b *Buffer) Since(seq uint64) []events.Event {
	var out []events.Event
	for _, e := range b.entries {
		if e.seq > seq {
			out = append(out, e.evt)
		}
	}
	return out
}

// IDs returns the set of buffered event ids.
func (b *Buffer) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(b.entries))
	for _, e := range b.entries {
		ids[e.evt.ID] = struct{}{}
	}
	return ids
}

// Merge replaces the buffer with snapshot, then re-appends events that
// arrived after since and are missing from the snapshot. It returns the events
// whose ids were not buffered before the merge.
func (b *Buffer) Merge(snapshot []events.Event, since uint64) []events.Event {
	before := b.IDs()
	late := b.Since(since)

	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, evt := range snapshot {
		inSnapshot[evt.ID] = struct{}{}
	}

	b.Replace(snapshot)
	for _, evt := range late {
		if _, ok := inSnapshot[evt.ID]; ok {
			continue
		}
		b.Append(evt)
	}

	var fresh []events.Event
	for _, evt := range snapshot {
		if _, ok := before[evt.ID]; ok {
			continue
		}
		before[evt.ID] = struct{}{}
		fresh = append(fresh, evt)
	}
	return fresh
}
