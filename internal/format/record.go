package format

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/trace"
)

// Record is the structured form of an event shared by the JSON and
// msgpack formats.
type Record struct {
	Kind      string  `json:"kind" msgpack:"kind"`
	Channel   uint8   `json:"ch" msgpack:"ch"`
	Value     uint32  `json:"value" msgpack:"value"`
	Size      uint8   `json:"size,omitempty" msgpack:"size,omitempty"`
	Timestamp *uint64 `json:"ts,omitempty" msgpack:"ts,omitempty"`
	Symbol    string  `json:"sym,omitempty" msgpack:"sym,omitempty"`
}

func newRecord(ev trace.Event, r symbols.Resolver) Record {
	rec := Record{
		Kind:    ev.Kind.String(),
		Channel: ev.Channel,
		Value:   ev.Value,
		Size:    ev.Size,
	}
	if ev.HasTimestamp {
		ts := ev.Timestamp
		rec.Timestamp = &ts
	}
	if r != nil && ev.Kind == trace.KindHardware && ev.Channel == trace.DWTPCSample {
		rec.Symbol = lookup(r, ev.Value)
	}
	return rec
}

// JSON renders newline-delimited JSON records.
type JSON struct {
	resolver symbols.Resolver
}

func (j *JSON) Name() string { return "json" }

func (j *JSON) Append(dst []byte, ev trace.Event) []byte {
	b, err := json.Marshal(newRecord(ev, j.resolver))
	if err != nil {
		// Record has no types json cannot encode.
		return dst
	}
	dst = append(dst, b...)
	return append(dst, '\n')
}

// Msgpack renders a stream of concatenated msgpack maps.
type Msgpack struct{}

func (m *Msgpack) Name() string { return "msgpack" }

func (m *Msgpack) Append(dst []byte, ev trace.Event) []byte {
	b, err := msgpack.Marshal(newRecord(ev, nil))
	if err != nil {
		return dst
	}
	return append(dst, b...)
}
