package source

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const dialTimeout = 5 * time.Second

// TCPReader reads from a TCP trace feed and transparently redials when the
// connection drops. Dial attempts are paced by a rate limiter.
type TCPReader struct {
	ctx     context.Context
	addr    string
	limiter *rate.Limiter
	dialer  net.Dialer
	logger  *zap.Logger
	stop    func() bool

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	connects atomic.Uint64
	drops    atomic.Uint64
}

// NewTCPReader returns a reader for addr. It dials lazily on first Read.
func NewTCPReader(ctx context.Context, addr string, interval time.Duration, logger *zap.Logger) *TCPReader {
	r := &TCPReader{
		ctx:     ctx,
		addr:    addr,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		dialer:  net.Dialer{Timeout: dialTimeout},
		logger:  logger.With(zap.String("addr", addr)),
	}
	r.mu.Lock()
	r.stop = context.AfterFunc(ctx, func() { _ = r.Close() })
	r.mu.Unlock()
	return r
}

// Read returns the next bytes from the feed. It blocks across reconnects and
// only fails once the context is cancelled or the reader is closed.
func (r *TCPReader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}

		conn, err := r.connection()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return 0, io.EOF
			}
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			r.logger.Debug("dial failed", zap.Error(err))
			continue
		}

		n, err := conn.Read(p)
		if err != nil {
			r.drop(conn, err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (r *TCPReader) connection() (net.Conn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.conn != nil {
		conn := r.conn
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	if err := r.limiter.Wait(r.ctx); err != nil {
		return nil, err
	}
	conn, err := r.dialer.DialContext(r.ctx, "tcp", r.addr)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return nil, ErrClosed
	}
	r.conn = conn
	r.connects.Add(1)
	r.logger.Info("connected to trace source")
	return conn, nil
}

func (r *TCPReader) drop(conn net.Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		return
	}
	_ = conn.Close()
	r.conn = nil
	if !r.closed {
		r.drops.Add(1)
		r.logger.Warn("trace source disconnected", zap.Error(err))
	}
}

// Connects returns how many connections have been established.
func (r *TCPReader) Connects() uint64 {
	return r.connects.Load()
}

// Close stops the reader and closes the current connection.
func (r *TCPReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stop != nil {
		r.stop()
	}
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}
