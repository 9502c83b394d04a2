// Package fanout serves one live byte feed to any number of TCP clients.
//
// Broadcast never touches a client socket. Each client owns a bounded queue
// drained by its own worker goroutine, so a slow peer can only fill its own
// queue; when that happens the peer is dropped. The registry of live
// clients is guarded by a timed lock, and failing to acquire it in time is
// treated as fatal.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	// DefaultQueueDepth is the number of broadcast buffers a client may lag.
	DefaultQueueDepth = 1024

	// DefaultLockTimeout bounds every registry lock acquisition.
	DefaultLockTimeout = time.Second

	acceptBackoff = 10 * time.Millisecond
	pollInterval  = 10 * time.Millisecond
)

// Stats is a snapshot of server counters.
type Stats struct {
	Addr       string `json:"addr"`
	Clients    int    `json:"clients"`
	Accepted   uint64 `json:"accepted"`
	Removed    uint64 `json:"removed"`
	Stalled    uint64 `json:"stalled"`
	Broadcasts uint64 `json:"broadcasts"`
	Bytes      uint64 `json:"bytes"`
	Finished   bool   `json:"finished"`
}

// Option configures a Server.
type Option func(*Server)

// WithHost binds to host instead of all interfaces.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithQueueDepth sets the per-client queue depth.
func WithQueueDepth(depth int) Option {
	return func(s *Server) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

// WithLockTimeout sets the registry lock timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithFatalHandler replaces the handler run on a registry lock timeout.
// The default logs at Fatal level, which exits the process.
func WithFatalHandler(fn func(op string, waited time.Duration)) Option {
	return func(s *Server) {
		s.fatal = fn
	}
}

// Server is a TCP broadcast server.
type Server struct {
	host        string
	queueDepth  int
	lockTimeout time.Duration
	fatal       func(op string, waited time.Duration)
	logger      *zap.Logger

	ln         net.Listener
	lock       *timedLock
	reg        *registry
	workers    conc.WaitGroup
	acceptDone chan struct{}

	finish     atomic.Bool
	live       atomic.Int64
	accepted   atomic.Uint64
	removed    atomic.Uint64
	stalled    atomic.Uint64
	broadcasts atomic.Uint64
	bytes      atomic.Uint64
}

// Start binds a TCP listener on port with address reuse enabled and starts
// accepting clients. Bind and listen failures are returned as is; there is
// no retry.
func Start(port int, logger *zap.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		queueDepth:  DefaultQueueDepth,
		lockTimeout: DefaultLockTimeout,
		logger:      logger.Named("fanout"),
		reg:         newRegistry(),
		acceptDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fatal == nil {
		s.fatal = func(op string, waited time.Duration) {
			s.logger.Fatal("registry lock timeout",
				zap.String("op", op),
				zap.Duration("waited", waited),
			)
		}
	}
	s.lock = newTimedLock(s.lockTimeout, s.fatal)

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	lc := net.ListenConfig{Control: reuseControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.ln = ln

	s.logger.Info("fanout server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("queueDepth", s.queueDepth),
		zap.Duration("lockTimeout", s.lockTimeout),
	)

	s.workers.Go(s.acceptLoop)
	return s, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.ln.Accept()
		if s.finish.Load() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}
		s.register(conn)
	}
}

// register links a new client at the head of the registry, then starts its
// worker. A client is never running without being linked.
func (s *Server) register(conn net.Conn) {
	c := newClient(conn, s.queueDepth, s.logger)

	if err := s.lock.lock("register"); err != nil {
		_ = conn.Close()
		return
	}
	if s.finish.Load() {
		s.lock.unlock()
		_ = conn.Close()
		return
	}
	s.reg.insert(c)
	s.live.Add(1)
	s.accepted.Add(1)
	s.workers.Go(func() { s.serve(c) })
	s.lock.unlock()

	c.logger.Info("client connected")
}

// serve is the client worker. It alone drives the client from RUNNING to
// REMOVED.
func (s *Server) serve(c *client) {
	c.setState(StateRunning)
	s.workers.Go(c.discardInput)

	c.pump()

	c.setState(StateDraining)
	c.terminate()

	if err := s.lock.lock("unlink"); err != nil {
		return
	}
	if s.reg.unlink(c.id) {
		s.live.Add(-1)
		s.removed.Add(1)
	}
	s.lock.unlock()

	c.setState(StateRemoved)
	c.logger.Info("client disconnected", zap.Uint64("bytesSent", c.bytesSent.Load()))
}

// Broadcast hands buf to every connected client. The buffer is copied once
// and shared; the caller may reuse it on return. With no clients it is a
// no-op. A client whose queue is full is dropped.
func (s *Server) Broadcast(buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	if s.finish.Load() {
		return ErrServerClosed
	}

	if err := s.lock.lock("broadcast"); err != nil {
		return err
	}
	defer s.lock.unlock()

	if s.reg.len() == 0 {
		return nil
	}

	shared := make([]byte, len(buf))
	copy(shared, buf)

	s.reg.each(func(c *client) {
		if c.terminating.Load() {
			return
		}
		if !c.enqueue(shared) {
			s.stalled.Add(1)
			c.logger.Warn("client queue full, dropping client", zap.Int("queueDepth", cap(c.queue)))
			c.terminate()
		}
	})
	s.broadcasts.Add(1)
	s.bytes.Add(uint64(len(buf)))
	return nil
}

// Shutdown stops accepting, then terminates every client. It does not wait
// for workers; poll ShutdownComplete or call Wait.
func (s *Server) Shutdown() {
	if !s.finish.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("fanout server shutting down", zap.Int64("clients", s.live.Load()))

	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("closing listener", zap.Error(err))
	}

	if err := s.lock.lock("shutdown"); err != nil {
		return
	}
	defer s.lock.unlock()
	s.reg.each(func(c *client) {
		c.terminate()
	})
}

// ShutdownComplete reports, without blocking, whether Shutdown was called,
// the accept loop has exited and every client has unlinked itself.
func (s *Server) ShutdownComplete() bool {
	if !s.finish.Load() || s.live.Load() != 0 {
		return false
	}
	select {
	case <-s.acceptDone:
		return true
	default:
		return false
	}
}

// Wait polls ShutdownComplete until it holds or ctx ends, then waits for
// the remaining goroutines and logs any panic they raised.
func (s *Server) Wait(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !s.ShutdownComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if r := s.workers.WaitAndRecover(); r != nil {
		s.logger.Error("fanout worker panicked", zap.String("panic", r.String()))
		return fmt.Errorf("fanout worker panicked: %v", r.Value)
	}
	s.logger.Info("fanout server stopped")
	return nil
}

// Len returns the number of registered clients.
func (s *Server) Len() int {
	return int(s.live.Load())
}

// Clients lists registered clients, newest first.
func (s *Server) Clients() ([]ClientInfo, error) {
	if err := s.lock.lock("clients"); err != nil {
		return nil, err
	}
	defer s.lock.unlock()

	out := make([]ClientInfo, 0, s.reg.len())
	s.reg.each(func(c *client) {
		out = append(out, c.info())
	})
	return out, nil
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Addr:       s.ln.Addr().String(),
		Clients:    int(s.live.Load()),
		Accepted:   s.accepted.Load(),
		Removed:    s.removed.Load(),
		Stalled:    s.stalled.Load(),
		Broadcasts: s.broadcasts.Load(),
		Bytes:      s.bytes.Load(),
		Finished:   s.finish.Load(),
	}
}
