// Package trace defines the decoded trace event model shared by the decoder,
// the resequencer and the output formatters.
package trace

import "fmt"

// Kind identifies what a decoded event carries.
type Kind uint8

const (
	KindUnknown         Kind = iota
	KindSoftware             // ITM software stimulus write
	KindHardware             // DWT hardware source packet
	KindTimestamp            // local timestamp marker
	KindGlobalTimestamp      // global timestamp marker
	KindOverflow             // target-side ITM overflow packet
	KindSync                 // alignment synchronisation
	KindExtension            // ITM extension packet
	KindResync               // decode error, stream realignment
	KindLoss                 // events dropped by the resequencer
)

func (k Kind) String() string {
	switch k {
	case KindSoftware:
		return "SWIT"
	case KindHardware:
		return "DWT"
	case KindTimestamp:
		return "TS"
	case KindGlobalTimestamp:
		return "GTS"
	case KindOverflow:
		return "OVERFLOW"
	case KindSync:
		return "SYNC"
	case KindExtension:
		return "EXT"
	case KindResync:
		return "RESYNC"
	case KindLoss:
		return "LOSS"
	default:
		return "UNKNOWN"
	}
}

// Event is one decoded trace record.
//
// Channel holds the stimulus port for software events, the discriminator
// for hardware events and the timestamp control bits for timing markers.
// Timestamp is the absolute target time in cycles at decode; it is only
// meaningful when HasTimestamp is set.
type Event struct {
	Kind         Kind
	Channel      uint8
	Value        uint32
	Size         uint8
	Timestamp    uint64
	HasTimestamp bool
}

// IsTimeMarker reports whether the event only carries timing information.
func (e Event) IsTimeMarker() bool {
	return e.Kind == KindTimestamp || e.Kind == KindGlobalTimestamp
}

// Payload returns the value as little-endian bytes trimmed to Size.
func (e Event) Payload() []byte {
	n := int(e.Size)
	if n > 4 {
		n = 4
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(e.Value >> (8 * i))
	}
	return out
}

func (e Event) String() string {
	if e.HasTimestamp {
		return fmt.Sprintf("%s ch=%d val=0x%08X sz=%d ts=%d", e.Kind, e.Channel, e.Value, e.Size, e.Timestamp)
	}
	return fmt.Sprintf("%s ch=%d val=0x%08X sz=%d", e.Kind, e.Channel, e.Value, e.Size)
}

// Source turns raw trace bytes into events, one byte at a time. Pump must
// never block; it returns false when the byte did not complete an event.
type Source interface {
	Pump(c byte) (Event, bool)
}

// DWT discriminators used by hardware source packets.
const (
	DWTEventCounter = 0
	DWTException    = 1
	DWTPCSample     = 2
)
