// Package format renders trace events as bytes for the broadcast feed.
package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/trace"
)

// Raw is the pseudo-format that forwards input bytes untouched. It has no
// Formatter; the pipeline handles it.
const Raw = "raw"

// ErrUnknownFormat is returned by New for unsupported names.
var ErrUnknownFormat = errors.New("unknown output format")

// Formatter appends one encoded record per event to dst.
type Formatter interface {
	Name() string
	Append(dst []byte, ev trace.Event) []byte
}

type constructor func(symbols.Resolver) Formatter

var registry = map[string]constructor{
	"text":    func(r symbols.Resolver) Formatter { return &Text{resolver: r} },
	"json":    func(r symbols.Resolver) Formatter { return &JSON{resolver: r} },
	"msgpack": func(symbols.Resolver) Formatter { return &Msgpack{} },
	"proto":   func(symbols.Resolver) Formatter { return &Proto{} },
}

// Names lists the supported formats, including raw.
func Names() []string {
	names := []string{Raw}
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// Valid reports whether name is a supported format.
func Valid(name string) bool {
	if name == Raw {
		return true
	}
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// New returns the formatter called name. resolver may be nil.
func New(name string, resolver symbols.Resolver) (Formatter, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return ctor(resolver), nil
}

// Loss builds the synthetic event that reports dropped events.
func Loss(dropped uint64) trace.Event {
	return trace.Event{Kind: trace.KindLoss, Value: uint32(min(dropped, uint64(^uint32(0))))}
}

func lookup(r symbols.Resolver, addr uint32) string {
	if r == nil {
		if class, ok := symbols.Classify(addr); ok {
			return class.String()
		}
		return symbols.Unknown
	}
	return r.Lookup(addr).String()
}
