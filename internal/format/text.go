package format

import (
	"strconv"

	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/trace"
)

// Text renders one human-readable line per event.
type Text struct {
	resolver symbols.Resolver
}

func (t *Text) Name() string { return "text" }

func (t *Text) Append(dst []byte, ev trace.Event) []byte {
	if ev.HasTimestamp {
		dst = append(dst, '[')
		dst = strconv.AppendUint(dst, ev.Timestamp, 10)
		dst = append(dst, "] "...)
	}
	dst = append(dst, ev.Kind.String()...)

	switch ev.Kind {
	case trace.KindSoftware:
		dst = append(dst, " ch="...)
		dst = strconv.AppendUint(dst, uint64(ev.Channel), 10)
		dst = append(dst, " 0x"...)
		dst = appendHex(dst, ev.Value, int(ev.Size)*2)
		if ev.Size == 1 && ev.Value >= 0x20 && ev.Value < 0x7F {
			dst = append(dst, " '"...)
			dst = append(dst, byte(ev.Value))
			dst = append(dst, '\'')
		}
	case trace.KindHardware:
		dst = append(dst, ' ')
		dst = append(dst, dwtName(ev.Channel)...)
		dst = append(dst, " 0x"...)
		dst = appendHex(dst, ev.Value, int(ev.Size)*2)
		if ev.Channel == trace.DWTPCSample && ev.Size == 4 {
			dst = append(dst, ' ')
			dst = append(dst, lookup(t.resolver, ev.Value)...)
		}
	case trace.KindTimestamp:
		dst = append(dst, " +"...)
		dst = strconv.AppendUint(dst, uint64(ev.Value), 10)
	case trace.KindLoss:
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(ev.Value), 10)
		dst = append(dst, " events dropped"...)
	case trace.KindResync:
		dst = append(dst, " stream corrupted, resynchronising"...)
	case trace.KindExtension:
		dst = append(dst, " 0x"...)
		dst = appendHex(dst, ev.Value, 8)
	}
	return append(dst, '\n')
}

func dwtName(disc uint8) string {
	switch disc {
	case trace.DWTEventCounter:
		return "EVCNT"
	case trace.DWTException:
		return "EXC"
	case trace.DWTPCSample:
		return "PC"
	default:
		return "DWT" + strconv.Itoa(int(disc))
	}
}

const hexDigits = "0123456789ABCDEF"

func appendHex(dst []byte, v uint32, width int) []byte {
	if width <= 0 {
		width = 2
	}
	for i := width - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(v>>(4*uint(i)))&0xF])
	}
	return dst
}
