// Package itm decodes an ARM ITM/SWO byte stream into trace events.
//
// The decoder is a byte-at-a-time state machine. It starts unsynchronised
// and waits for an ASYNC sequence (at least five zero bytes followed by
// 0x80) before it interprets headers. A reserved header or an overlong
// continuation sequence emits a Resync event and drops back to waiting for
// the next ASYNC.
package itm

import (
	"github.com/dgnsrekt/swofeed/internal/trace"
)

type state uint8

const (
	stateUnsynced state = iota
	stateHeader
	statePayload
	stateAsync
)

type packetType uint8

const (
	pktNone packetType = iota
	pktSWIT
	pktDWT
	pktLocalTS
	pktGTS1
	pktGTS2
	pktExtension
)

const (
	asyncZeros = 5

	localTSLimit   = 4
	gts1Limit      = 4
	gts2Limit      = 6
	extensionLimit = 4
)

// GTS1 replaces the low bits of the global clock; the mask depends on how
// many payload bytes were sent.
var gtsLowMask = [...]uint64{
	0x00000007F,
	0x000003FFF,
	0x0001FFFFF,
	0x003FFFFFF,
}

// Stats counts decoder activity.
type Stats struct {
	Packets   uint64 `json:"packets"`
	Syncs     uint64 `json:"syncs"`
	Resyncs   uint64 `json:"resyncs"`
	Overflows uint64 `json:"overflows"`
}

// Decoder implements trace.Source for ITM.
type Decoder struct {
	state state
	zeros int

	hdr     byte
	pkt     packetType
	payload [8]byte
	n       int
	want    int

	localTS  uint64
	globalTS uint64
	hasTS    bool
	stimPage uint8

	stats Stats
}

var _ trace.Source = (*Decoder)(nil)

// NewDecoder returns a Decoder waiting for synchronisation.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Stats returns a copy of the counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Synced reports whether the decoder is currently synchronised.
func (d *Decoder) Synced() bool {
	return d.state != stateUnsynced
}

// Pump consumes one byte.
func (d *Decoder) Pump(c byte) (trace.Event, bool) {
	switch d.state {
	case stateUnsynced:
		return d.waitSync(c)
	case stateAsync:
		return d.async(c)
	case statePayload:
		return d.collect(c)
	default:
		return d.header(c)
	}
}

func (d *Decoder) waitSync(c byte) (trace.Event, bool) {
	switch {
	case c == 0x00:
		d.zeros++
	case c == 0x80 && d.zeros >= asyncZeros:
		return d.synced(), true
	default:
		d.zeros = 0
	}
	return trace.Event{}, false
}

func (d *Decoder) synced() trace.Event {
	d.zeros = 0
	d.state = stateHeader
	d.localTS = 0
	d.hasTS = false
	d.stats.Syncs++
	return trace.Event{Kind: trace.KindSync}
}

// async continues an ASYNC packet seen while synchronised.
func (d *Decoder) async(c byte) (trace.Event, bool) {
	switch {
	case c == 0x00:
		d.zeros++
		return trace.Event{}, false
	case c == 0x80 && d.zeros >= asyncZeros:
		return d.synced(), true
	default:
		return d.resync(), true
	}
}

func (d *Decoder) resync() trace.Event {
	d.stats.Resyncs++
	d.state = stateUnsynced
	d.zeros = 0
	d.pkt = pktNone
	d.n = 0
	return trace.Event{Kind: trace.KindResync, Value: uint32(d.hdr)}
}

func (d *Decoder) header(c byte) (trace.Event, bool) {
	d.hdr = c
	d.n = 0

	switch {
	case c&0x03 != 0:
		if c&0x04 != 0 {
			d.pkt = pktDWT
		} else {
			d.pkt = pktSWIT
		}
		d.want = int(c & 0x03)
		if d.want == 3 {
			d.want = 4
		}
		d.state = statePayload

	case c&0x0F == 0:
		switch {
		case c == 0x00:
			d.zeros = 1
			d.state = stateAsync
		case c == 0x70:
			d.stats.Packets++
			d.stats.Overflows++
			return d.stamp(trace.Event{Kind: trace.KindOverflow}), true
		case c&0x80 == 0:
			// Short local timestamp; the delta lives in the header.
			return d.localTimestamp(0, uint32(c>>4)&0x7, 1), true
		default:
			d.pkt = pktLocalTS
			d.state = statePayload
		}

	case c&0x0B == 0x08:
		if c&0x80 == 0 {
			return d.extension(), true
		}
		d.pkt = pktExtension
		d.state = statePayload

	case c&0xDF == 0x94:
		if c&0x20 == 0 {
			d.pkt = pktGTS1
		} else {
			d.pkt = pktGTS2
		}
		d.state = statePayload

	default:
		return d.resync(), true
	}
	return trace.Event{}, false
}

// collect gathers payload bytes for the current packet.
func (d *Decoder) collect(c byte) (trace.Event, bool) {
	d.payload[d.n] = c
	d.n++

	switch d.pkt {
	case pktSWIT, pktDWT:
		if d.n < d.want {
			return trace.Event{}, false
		}
		return d.stimulus(), true

	case pktLocalTS:
		if done, ok := d.continuation(c, localTSLimit); !done {
			return d.pending(ok)
		}
		return d.localTimestamp((d.hdr>>4)&0x3, uint32(d.contValue()), uint8(d.n)), true

	case pktGTS1:
		if done, ok := d.continuation(c, gts1Limit); !done {
			return d.pending(ok)
		}
		return d.gts1(), true

	case pktGTS2:
		if done, ok := d.continuation(c, gts2Limit); !done {
			return d.pending(ok)
		}
		return d.gts2(), true

	case pktExtension:
		if done, ok := d.continuation(c, extensionLimit); !done {
			return d.pending(ok)
		}
		return d.extension(), true
	}
	return d.resync(), true
}

// continuation reports whether c ends a continuation sequence, and whether
// the sequence is still within limit.
func (d *Decoder) continuation(c byte, limit int) (done, ok bool) {
	if c&0x80 == 0 {
		return true, true
	}
	return false, d.n < limit
}

func (d *Decoder) pending(ok bool) (trace.Event, bool) {
	if !ok {
		return d.resync(), true
	}
	return trace.Event{}, false
}

func (d *Decoder) contValue() uint64 {
	var v uint64
	for i := 0; i < d.n; i++ {
		v |= uint64(d.payload[i]&0x7F) << (7 * i)
	}
	return v
}

func (d *Decoder) stamp(ev trace.Event) trace.Event {
	ev.Timestamp = d.localTS
	ev.HasTimestamp = d.hasTS
	return ev
}

func (d *Decoder) done() {
	d.state = stateHeader
	d.pkt = pktNone
	d.stats.Packets++
}

func (d *Decoder) stimulus() trace.Event {
	var v uint32
	for i := 0; i < d.want; i++ {
		v |= uint32(d.payload[i]) << (8 * i)
	}
	ev := trace.Event{
		Kind:  trace.KindSoftware,
		Value: v,
		Size:  uint8(d.want),
	}
	port := (d.hdr >> 3) & 0x1F
	if d.pkt == pktDWT {
		ev.Kind = trace.KindHardware
		ev.Channel = port
	} else {
		ev.Channel = port | d.stimPage<<5
	}
	d.done()
	return d.stamp(ev)
}

func (d *Decoder) localTimestamp(tc byte, delta uint32, size uint8) trace.Event {
	d.localTS += uint64(delta)
	d.hasTS = true
	d.done()
	return d.stamp(trace.Event{
		Kind:    trace.KindTimestamp,
		Channel: tc,
		Value:   delta,
		Size:    size,
	})
}

func (d *Decoder) gts1() trace.Event {
	ctrl := byte(0)
	if d.n == gts1Limit {
		ctrl = (d.payload[3] >> 5) & 0x3
		d.payload[3] &= 0x1F
	}
	v := d.contValue()
	d.globalTS &^= gtsLowMask[d.n-1]
	d.globalTS |= v
	d.done()
	return trace.Event{
		Kind:         trace.KindGlobalTimestamp,
		Channel:      ctrl,
		Value:        uint32(v),
		Size:         uint8(d.n),
		Timestamp:    d.globalTS,
		HasTimestamp: true,
	}
}

func (d *Decoder) gts2() trace.Event {
	v := d.contValue()
	d.globalTS &= gtsLowMask[len(gtsLowMask)-1]
	d.globalTS |= v << 26
	d.done()
	return trace.Event{
		Kind:         trace.KindGlobalTimestamp,
		Channel:      0x80,
		Value:        uint32(v),
		Size:         uint8(d.n),
		Timestamp:    d.globalTS,
		HasTimestamp: true,
	}
}

// extension decodes an extension packet. With the SH bit clear and no
// payload it selects the stimulus port page.
func (d *Decoder) extension() trace.Event {
	bitLength := [...]uint8{2, 9, 16, 23, 31}
	id := bitLength[d.n]
	if d.hdr&0x04 != 0 {
		id |= 0x80
	}
	var v uint32
	if d.n > 0 {
		v = uint32(d.contValue()) << 3
	}
	v |= uint32(d.hdr>>4) & 0x7
	if d.hdr&0x04 == 0 && d.n == 0 {
		d.stimPage = uint8(v)
	}
	d.done()
	return d.stamp(trace.Event{
		Kind:    trace.KindExtension,
		Channel: id,
		Value:   v,
		Size:    4,
	})
}
