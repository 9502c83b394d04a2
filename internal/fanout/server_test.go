package fanout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := Start(0, zaptest.NewLogger(t), append([]Option{WithHost("127.0.0.1")}, opts...)...)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
	})
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

var pattern = []byte("0123456789ABCDEF")

func TestBroadcastNoClients(t *testing.T) {
	s := startServer(t)

	if err := s.Broadcast(pattern); err != nil {
		t.Fatalf("Broadcast with no clients: %v", err)
	}
	if st := s.Stats(); st.Broadcasts != 0 || st.Bytes != 0 {
		t.Errorf("stats changed with no clients: %+v", st)
	}
}

func TestBroadcastEmptyBuffer(t *testing.T) {
	s := startServer(t)

	if err := s.Broadcast(nil); !errors.Is(err, ErrEmptyBuffer) {
		t.Errorf("Broadcast(nil) = %v, want ErrEmptyBuffer", err)
	}
}

func TestBroadcastSingleClientInOrder(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	waitFor(t, "client registration", func() bool { return s.Len() == 1 })

	for i := 0; i < 3; i++ {
		if err := s.Broadcast(pattern); err != nil {
			t.Fatalf("Broadcast #%d: %v", i, err)
		}
	}

	got := readN(t, conn, 48)
	if diff := cmp.Diff(bytes.Repeat(pattern, 3), got); diff != "" {
		t.Errorf("received bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastCallerMayReuseBuffer(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	waitFor(t, "client registration", func() bool { return s.Len() == 1 })

	buf := []byte("first")
	if err := s.Broadcast(buf); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	copy(buf, "XXXXX")

	if got := string(readN(t, conn, 5)); got != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}
}

func TestBroadcastManyClients(t *testing.T) {
	const k = 8
	s := startServer(t)

	conns := make([]net.Conn, k)
	for i := range conns {
		conns[i] = dial(t, s)
	}
	waitFor(t, "all clients", func() bool { return s.Len() == k })

	payload := bytes.Repeat([]byte{0xA5, 0x5A}, 512)
	if err := s.Broadcast(payload); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for i, conn := range conns {
		if got := readN(t, conn, len(payload)); !bytes.Equal(got, payload) {
			t.Errorf("client %d received wrong bytes", i)
		}
	}

	clients, err := s.Clients()
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(clients) != k {
		t.Errorf("Clients() returned %d entries, want %d", len(clients), k)
	}
}

func TestClientDisconnectLeavesOthers(t *testing.T) {
	s := startServer(t)
	c1 := dial(t, s)
	c2 := dial(t, s)
	waitFor(t, "two clients", func() bool { return s.Len() == 2 })

	if tc, ok := c1.(*net.TCPConn); ok {
		tc.SetLinger(0)
	}
	c1.Close()
	waitFor(t, "registry to drop to one", func() bool { return s.Len() == 1 })

	if err := s.Broadcast(pattern); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := readN(t, c2, len(pattern)); !bytes.Equal(got, pattern) {
		t.Errorf("surviving client got %q", got)
	}
	if st := s.Stats(); st.Removed != 1 || st.Clients != 1 {
		t.Errorf("stats = %+v, want removed=1 clients=1", st)
	}
}

func TestClientInputIsDiscarded(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	waitFor(t, "client registration", func() bool { return s.Len() == 1 })

	if _, err := conn.Write([]byte("ignored input")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if err := s.Broadcast(pattern); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := readN(t, conn, len(pattern)); !bytes.Equal(got, pattern) {
		t.Errorf("got %q, want the broadcast pattern only", got)
	}
	if s.Len() != 1 {
		t.Errorf("client was dropped after sending input")
	}
}

func TestShutdownClosesClients(t *testing.T) {
	const k = 4
	s := startServer(t)

	conns := make([]net.Conn, k)
	for i := range conns {
		conns[i] = dial(t, s)
	}
	waitFor(t, "all clients", func() bool { return s.Len() == k })

	if s.ShutdownComplete() {
		t.Fatal("ShutdownComplete true before Shutdown")
	}
	s.Shutdown()
	waitFor(t, "shutdown to complete", s.ShutdownComplete)

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Read(make([]byte, 1)); err == nil {
			t.Errorf("client %d read succeeded after shutdown", i)
		}
	}

	if err := s.Broadcast(pattern); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Broadcast after shutdown = %v, want ErrServerClosed", err)
	}
	if _, err := net.DialTimeout("tcp", s.Addr().String(), time.Second); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestShutdownWithoutClients(t *testing.T) {
	s := startServer(t)
	s.Shutdown()
	s.Shutdown()
	waitFor(t, "shutdown to complete", s.ShutdownComplete)
}

func TestStalledClientIsDropped(t *testing.T) {
	s := startServer(t, WithQueueDepth(1))
	conn := dial(t, s)
	_ = conn
	waitFor(t, "client registration", func() bool { return s.Len() == 1 })

	chunk := make([]byte, 256*1024)
	for i := 0; i < 400 && s.Stats().Stalled == 0; i++ {
		if err := s.Broadcast(chunk); err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	}
	if s.Stats().Stalled == 0 {
		t.Fatal("client that never reads was not marked stalled")
	}
	waitFor(t, "stalled client removal", func() bool { return s.Len() == 0 })
}

func TestLockTimeoutRunsFatalHandler(t *testing.T) {
	var fired atomic.Int32
	var gotOp atomic.Value
	s := startServer(t,
		WithLockTimeout(50*time.Millisecond),
		WithFatalHandler(func(op string, _ time.Duration) {
			fired.Add(1)
			gotOp.Store(op)
		}),
	)

	if err := s.lock.lock("test"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := s.Broadcast(pattern)
	s.lock.unlock()

	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Broadcast under held lock = %v, want ErrLockTimeout", err)
	}
	if fired.Load() != 1 {
		t.Errorf("fatal handler fired %d times, want 1", fired.Load())
	}
	if op, _ := gotOp.Load().(string); op != "broadcast" {
		t.Errorf("fatal handler op = %q, want broadcast", op)
	}
}

func TestStartBindFailure(t *testing.T) {
	if _, err := Start(0, zaptest.NewLogger(t), WithHost("203.0.113.254")); err == nil {
		t.Error("Start on a non-local address succeeded")
	}
}
