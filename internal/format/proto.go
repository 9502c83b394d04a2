package format

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dgnsrekt/swofeed/internal/trace"
)

// Field numbers of the Event message:
//
//	message Event {
//	  uint32 kind = 1;
//	  uint32 channel = 2;
//	  uint32 value = 3;
//	  uint32 size = 4;
//	  uint64 timestamp = 5;
//	  bool has_timestamp = 6;
//	}
const (
	fieldKind         protowire.Number = 1
	fieldChannel      protowire.Number = 2
	fieldValue        protowire.Number = 3
	fieldSize         protowire.Number = 4
	fieldTimestamp    protowire.Number = 5
	fieldHasTimestamp protowire.Number = 6
)

var errTruncated = errors.New("truncated proto record")

// Proto renders varint length-delimited protobuf Event messages.
type Proto struct {
	scratch []byte
}

func (p *Proto) Name() string { return "proto" }

func (p *Proto) Append(dst []byte, ev trace.Event) []byte {
	msg := p.scratch[:0]
	msg = appendVarintField(msg, fieldKind, uint64(ev.Kind))
	msg = appendVarintField(msg, fieldChannel, uint64(ev.Channel))
	msg = appendVarintField(msg, fieldValue, uint64(ev.Value))
	msg = appendVarintField(msg, fieldSize, uint64(ev.Size))
	if ev.HasTimestamp {
		msg = appendVarintField(msg, fieldTimestamp, ev.Timestamp)
		msg = protowire.AppendTag(msg, fieldHasTimestamp, protowire.VarintType)
		msg = protowire.AppendVarint(msg, protowire.EncodeBool(true))
	}
	p.scratch = msg

	return protowire.AppendBytes(dst, msg)
}

// Zero values are omitted, as proto3 does.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// ConsumeProto decodes one length-delimited record from b and returns the
// event and the number of bytes consumed.
func ConsumeProto(b []byte) (trace.Event, int, error) {
	msg, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return trace.Event{}, 0, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
	}

	var ev trace.Event
	for len(msg) > 0 {
		num, typ, tn := protowire.ConsumeTag(msg)
		if tn < 0 {
			return trace.Event{}, 0, protowire.ParseError(tn)
		}
		msg = msg[tn:]

		if typ != protowire.VarintType {
			vn := protowire.ConsumeFieldValue(num, typ, msg)
			if vn < 0 {
				return trace.Event{}, 0, protowire.ParseError(vn)
			}
			msg = msg[vn:]
			continue
		}

		v, vn := protowire.ConsumeVarint(msg)
		if vn < 0 {
			return trace.Event{}, 0, protowire.ParseError(vn)
		}
		msg = msg[vn:]

		switch num {
		case fieldKind:
			ev.Kind = trace.Kind(v)
		case fieldChannel:
			ev.Channel = uint8(v)
		case fieldValue:
			ev.Value = uint32(v)
		case fieldSize:
			ev.Size = uint8(v)
		case fieldTimestamp:
			ev.Timestamp = v
		case fieldHasTimestamp:
			ev.HasTimestamp = protowire.DecodeBool(v)
		}
	}
	return ev, n, nil
}
