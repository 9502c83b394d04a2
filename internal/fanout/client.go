package fanout

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle position of one client connection.
type State int32

const (
	StateAccepted State = iota
	StateRunning
	StateDraining
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	BytesSent   uint64    `json:"bytes_sent"`
	Queued      int       `json:"queued"`
}

// client is one accepted connection. Broadcast hands it shared read-only
// buffers through queue; its worker is the only writer to conn.
type client struct {
	id          string
	conn        net.Conn
	queue       chan []byte
	done        chan struct{}
	connectedAt time.Time
	logger      *zap.Logger

	state       atomic.Int32
	terminating atomic.Bool
	bytesSent   atomic.Uint64
	closeOnce   sync.Once
}

func newClient(conn net.Conn, depth int, logger *zap.Logger) *client {
	id := uuid.New().String()
	return &client{
		id:          id,
		conn:        conn,
		queue:       make(chan []byte, depth),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		logger: logger.With(
			zap.String("connID", id),
			zap.String("remote", conn.RemoteAddr().String()),
		),
	}
}

func (c *client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *client) State() State {
	return State(c.state.Load())
}

// terminate marks the client and closes its connection. Safe to call from
// any goroutine, any number of times. It unblocks a worker waiting on the
// queue or stuck in a socket write.
func (c *client) terminate() {
	c.closeOnce.Do(func() {
		c.terminating.Store(true)
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue offers buf without blocking. It returns false when the queue is full.
func (c *client) enqueue(buf []byte) bool {
	select {
	case c.queue <- buf:
		return true
	default:
		return false
	}
}

// pump forwards queued buffers to the socket until terminated or a write
// fails.
func (c *client) pump() {
	for {
		select {
		case <-c.done:
			return
		case buf := <-c.queue:
			n, err := c.conn.Write(buf)
			c.bytesSent.Add(uint64(n))
			if err != nil {
				if !c.terminating.Load() {
					c.logger.Debug("client write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// discardInput reads and drops anything the peer sends. The feed is
// send-only; EOF or a read error means the peer is gone.
func (c *client) discardInput() {
	_, err := io.Copy(io.Discard, c.conn)
	if !c.terminating.Load() {
		c.logger.Debug("client input closed", zap.Error(err))
	}
	c.terminate()
}

func (c *client) info() ClientInfo {
	return ClientInfo{
		ID:          c.id,
		Remote:      c.conn.RemoteAddr().String(),
		State:       c.State().String(),
		ConnectedAt: c.connectedAt,
		BytesSent:   c.bytesSent.Load(),
		Queued:      len(c.queue),
	}
}
