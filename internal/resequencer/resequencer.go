// Package resequencer buffers decoded trace events in a fixed ring and hands
// them out in corrected chronological order.
//
// The event source attaches a corrected timestamp to every event it emits,
// so insertion order into the ring is already timestamp order. The ring's
// job is buffering and overflow accounting: when the reader falls a full
// ring behind, the oldest unread event is overwritten and the loss is
// reported through Overflow and TakeDropped.
//
// A Resequencer is owned by a single goroutine. It has no internal locking
// and Pump and GetPacket must not be called concurrently.
package resequencer

import (
	"fmt"
	"math/bits"

	"github.com/dgnsrekt/swofeed/internal/trace"
)

// Option configures a Resequencer.
type Option func(*Resequencer)

// WithReleaseTimeMessages surfaces pure timestamp markers to the reader
// instead of absorbing them.
func WithReleaseTimeMessages(release bool) Option {
	return func(r *Resequencer) {
		r.releaseTimeMsg = release
	}
}

// Stats is a point-in-time copy of the resequencer counters.
type Stats struct {
	Capacity      int    `json:"capacity"`
	Buffered      int    `json:"buffered"`
	Inserted      uint64 `json:"inserted"`
	Absorbed      uint64 `json:"absorbed"`
	Dropped       uint64 `json:"dropped"`
	Resyncs       uint64 `json:"resyncs"`
	Overflow      bool   `json:"overflow"`
	LastTimestamp uint64 `json:"last_timestamp"`
}

// Resequencer is a power-of-two ring of trace events fed by a trace.Source.
type Resequencer struct {
	src  trace.Source
	ring []trace.Event
	mask uint32

	// wp and rp are free running; slot = index & mask. wp-rp is the number
	// of unread events and never exceeds len(ring).
	wp uint32
	rp uint32

	releaseTimeMsg bool

	overflow bool
	pending  uint64
	inserted uint64
	absorbed uint64
	dropped  uint64
	resyncs  uint64
	lastTime uint64
}

// New creates a Resequencer with capacity slots pumping bytes into src.
func New(src trace.Source, capacity int, opts ...Option) (*Resequencer, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if capacity <= 0 || capacity&(capacity-1) != 0 || uint64(capacity) > 1<<31 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}

	r := &Resequencer{
		src:  src,
		ring: make([]trace.Event, capacity),
		mask: uint32(capacity - 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RoundUpPow2 returns the smallest power of two >= n, with a minimum of 1.
func RoundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Pump feeds one raw byte to the event source and reports whether a new
// event became available to GetPacket.
func (r *Resequencer) Pump(c byte) bool {
	ev, ok := r.src.Pump(c)
	if !ok {
		return false
	}

	if ev.HasTimestamp {
		r.lastTime = ev.Timestamp
	}
	if ev.Kind == trace.KindResync {
		r.resyncs++
	}

	if ev.IsTimeMarker() && !r.releaseTimeMsg {
		r.absorbed++
		return false
	}

	r.insert(ev)
	return true
}

func (r *Resequencer) insert(ev trace.Event) {
	if r.wp-r.rp == uint32(len(r.ring)) {
		// Full: the slot at wp is the oldest unread event.
		r.rp++
		r.overflow = true
		r.pending++
		r.dropped++
	}
	r.ring[r.wp&r.mask] = ev
	r.wp++
	r.inserted++
}

// GetPacket returns the oldest unread event. It never blocks; ok is false
// when the ring is empty.
func (r *Resequencer) GetPacket() (ev trace.Event, ok bool) {
	if r.rp == r.wp {
		return trace.Event{}, false
	}
	ev = r.ring[r.rp&r.mask]
	r.rp++
	return ev, true
}

// Len returns the number of unread events.
func (r *Resequencer) Len() int {
	return int(r.wp - r.rp)
}

// Cap returns the ring capacity.
func (r *Resequencer) Cap() int {
	return len(r.ring)
}

// Overflow reports whether any event has ever been overwritten unread.
// The flag is sticky.
func (r *Resequencer) Overflow() bool {
	return r.overflow
}

// TakeDropped returns the number of events overwritten since the previous
// call and resets that count. The sticky Overflow flag is unaffected.
func (r *Resequencer) TakeDropped() uint64 {
	n := r.pending
	r.pending = 0
	return n
}

// Stats returns a copy of the counters.
func (r *Resequencer) Stats() Stats {
	return Stats{
		Capacity:      len(r.ring),
		Buffered:      r.Len(),
		Inserted:      r.inserted,
		Absorbed:      r.absorbed,
		Dropped:       r.dropped,
		Resyncs:       r.resyncs,
		Overflow:      r.overflow,
		LastTimestamp: r.lastTime,
	}
}
