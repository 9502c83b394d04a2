// Package tpiu strips CoreSight TPIU formatter framing from a trace stream.
//
// The formatter multiplexes trace sources into 16-byte frames. Even bytes
// are either an ID change (LSB set, ID in bits 7:1) or data whose LSB is
// carried in byte 15; odd bytes are always data. When an ID byte's aux bit
// is set, the following data byte still belongs to the previous ID. A full
// sync (FF FF FF 7F) marks a frame boundary.
package tpiu

import (
	"errors"
	"fmt"
)

const (
	// FrameSize is the size of one formatter frame.
	FrameSize = 16

	// DefaultStream is the trace ID ITM is conventionally routed to.
	DefaultStream = 1

	fsync    = 0xFFFFFF7F
	noStream = 0xFF
)

// ErrStream is returned for stream IDs outside 1..126.
var ErrStream = errors.New("tpiu stream id must be in 1..126")

// Stats counts deframer activity.
type Stats struct {
	Syncs   uint64 `json:"syncs"`
	Frames  uint64 `json:"frames"`
	Bytes   uint64 `json:"bytes"`
	Skipped uint64 `json:"skipped"`
}

// Deframer extracts one trace stream from formatted data. It keeps state
// across calls so frames may be split arbitrarily between chunks.
type Deframer struct {
	stream uint8
	synced bool
	window uint32
	frame  [FrameSize]byte
	n      int
	curr   uint8
	stats  Stats
}

// NewDeframer returns a Deframer selecting stream.
func NewDeframer(stream int) (*Deframer, error) {
	if stream < 1 || stream > 126 {
		return nil, fmt.Errorf("%w: got %d", ErrStream, stream)
	}
	return &Deframer{stream: uint8(stream), curr: noStream}, nil
}

// Stats returns a copy of the counters.
func (d *Deframer) Stats() Stats {
	return d.stats
}

// Synced reports whether a frame boundary has been found.
func (d *Deframer) Synced() bool {
	return d.synced
}

// Deframe appends the selected stream's bytes from src to dst.
func (d *Deframer) Deframe(dst, src []byte) []byte {
	for _, b := range src {
		d.window = d.window<<8 | uint32(b)
		if d.window == fsync {
			d.synced = true
			d.n = 0
			d.stats.Syncs++
			continue
		}
		if !d.synced {
			continue
		}

		d.frame[d.n] = b
		d.n++
		if d.n == FrameSize {
			dst = d.unpack(dst)
			d.n = 0
		}
	}
	return dst
}

func (d *Deframer) emit(dst []byte, id uint8, b byte) []byte {
	if id == d.stream {
		d.stats.Bytes++
		return append(dst, b)
	}
	d.stats.Skipped++
	return dst
}

func (d *Deframer) unpack(dst []byte) []byte {
	d.stats.Frames++
	aux := d.frame[15]

	for i := 0; i < 15; i += 2 {
		b := d.frame[i]
		auxBit := aux&(1<<(i/2)) != 0

		if b&0x01 != 0 {
			prev := d.curr
			d.curr = (b >> 1) & 0x7F
			if i == 14 {
				break
			}
			if auxBit && prev != noStream {
				dst = d.emit(dst, prev, d.frame[i+1])
			} else {
				dst = d.emit(dst, d.curr, d.frame[i+1])
			}
			continue
		}

		if auxBit {
			b |= 0x01
		}
		dst = d.emit(dst, d.curr, b)
		if i < 14 {
			dst = d.emit(dst, d.curr, d.frame[i+1])
		}
	}
	return dst
}
