// Package pipeline is the producer loop that connects a trace source to the
// broadcast sinks: bytes in, optional TPIU deframing, ITM decode, the
// resequencer, formatting, then one Broadcast per chunk to every sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/swofeed/internal/format"
	"github.com/dgnsrekt/swofeed/internal/itm"
	"github.com/dgnsrekt/swofeed/internal/resequencer"
	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/tpiu"
)

const (
	// DefaultChunkSize is the read size from the source. With the default
	// ring capacity a chunk cannot overflow the resequencer.
	DefaultChunkSize = 4096

	lossWarnInterval = 5 * time.Second
)

// Sink receives each formatted batch.
type Sink interface {
	Broadcast(buf []byte) error
}

// Config configures a Pipeline.
type Config struct {
	Format              string
	TPIU                bool
	TPIUStream          int
	Capacity            int
	ReleaseTimeMessages bool
	ChunkSize           int
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Format     string            `json:"format"`
	Running    bool              `json:"running"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	BytesIn    uint64            `json:"bytes_in"`
	BytesOut   uint64            `json:"bytes_out"`
	Events     uint64            `json:"events"`
	Batches    uint64            `json:"batches"`
	Lost       uint64            `json:"lost"`
	SinkErrors uint64            `json:"sink_errors"`
	Decoder    itm.Stats         `json:"decoder"`
	Sequencer  resequencer.Stats `json:"sequencer"`
	TPIU       *tpiu.Stats       `json:"tpiu,omitempty"`
}

// Pipeline owns the decoder and resequencer; Run must be called from a
// single goroutine. Snapshot is safe from any goroutine.
type Pipeline struct {
	cfg       Config
	deframer  *tpiu.Deframer
	decoder   *itm.Decoder
	seq       *resequencer.Resequencer
	formatter format.Formatter
	sinks     []Sink
	warn      *rate.Limiter
	logger    *zap.Logger

	deframed []byte
	out      []byte

	mu    sync.Mutex
	stats Stats
}

// New builds a Pipeline. resolver annotates PC samples in formats that
// support it and may be nil.
func New(cfg Config, resolver symbols.Resolver, logger *zap.Logger, sinks ...Sink) (*Pipeline, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Format == "" {
		cfg.Format = format.Raw
	}

	p := &Pipeline{
		cfg:     cfg,
		decoder: itm.NewDecoder(),
		sinks:   sinks,
		warn:    rate.NewLimiter(rate.Every(lossWarnInterval), 1),
		logger:  logger.Named("pipeline"),
	}

	if cfg.Format != format.Raw {
		f, err := format.New(cfg.Format, resolver)
		if err != nil {
			return nil, err
		}
		p.formatter = f
	}

	seq, err := resequencer.New(p.decoder, resequencer.RoundUpPow2(cfg.Capacity),
		resequencer.WithReleaseTimeMessages(cfg.ReleaseTimeMessages))
	if err != nil {
		return nil, fmt.Errorf("creating resequencer: %w", err)
	}
	p.seq = seq

	if cfg.TPIU {
		d, err := tpiu.NewDeframer(cfg.TPIUStream)
		if err != nil {
			return nil, err
		}
		p.deframer = d
	}

	p.stats.Format = cfg.Format
	p.publish()
	return p, nil
}

// Run reads r until EOF or ctx is cancelled. Both end the run cleanly; any
// other read error is returned.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) error {
	p.mu.Lock()
	p.stats.Running = true
	p.stats.StartedAt = time.Now()
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stats.Running = false
		p.mu.Unlock()
	}()

	p.logger.Info("pipeline started",
		zap.String("format", p.cfg.Format),
		zap.Bool("tpiu", p.deframer != nil),
		zap.Int("capacity", p.seq.Cap()),
	)

	buf := make([]byte, p.cfg.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.process(buf[:n])
		}
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping")
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("trace source ended")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading trace source: %w", err)
		}
	}
}

// process handles one chunk read from the source.
func (p *Pipeline) process(chunk []byte) {
	data := chunk
	if p.deframer != nil {
		p.deframed = p.deframer.Deframe(p.deframed[:0], chunk)
		data = p.deframed
	}

	for _, b := range data {
		p.seq.Pump(b)
	}

	out := p.out[:0]
	if p.formatter == nil {
		out = append(out, chunk...)
	}

	if dropped := p.seq.TakeDropped(); dropped > 0 {
		p.mu.Lock()
		p.stats.Lost += dropped
		p.mu.Unlock()
		if p.formatter != nil {
			out = p.formatter.Append(out, format.Loss(dropped))
		}
		if p.warn.Allow() {
			p.logger.Warn("resequencer overflow, events dropped",
				zap.Uint64("dropped", dropped),
				zap.Uint64("totalDropped", p.seq.Stats().Dropped),
			)
		}
	}

	var events uint64
	for {
		ev, ok := p.seq.GetPacket()
		if !ok {
			break
		}
		events++
		if p.formatter != nil {
			out = p.formatter.Append(out, ev)
		}
	}
	p.out = out

	var sinkErrs uint64
	if len(out) > 0 {
		for _, s := range p.sinks {
			if err := s.Broadcast(out); err != nil {
				sinkErrs++
				p.logger.Debug("sink broadcast failed", zap.Error(err))
			}
		}
	}

	p.mu.Lock()
	p.stats.BytesIn += uint64(len(chunk))
	p.stats.Events += events
	p.stats.SinkErrors += sinkErrs
	if len(out) > 0 {
		p.stats.Batches++
		p.stats.BytesOut += uint64(len(out))
	}
	p.mu.Unlock()
	p.publish()
}

// publish copies the component counters into the snapshot.
func (p *Pipeline) publish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Decoder = p.decoder.Stats()
	p.stats.Sequencer = p.seq.Stats()
	if p.deframer != nil {
		st := p.deframer.Stats()
		p.stats.TPIU = &st
	}
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	if st.TPIU != nil {
		t := *st.TPIU
		st.TPIU = &t
	}
	return st
}
