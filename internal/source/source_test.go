package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap/zaptest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		url      string
		wantKind Kind
		wantAddr string
		wantErr  error
	}{
		{url: "-", wantKind: KindStdin},
		{url: "capture.bin", wantKind: KindFile, wantAddr: "capture.bin"},
		{url: "file:///tmp/capture.bin.zst", wantKind: KindFile, wantAddr: "/tmp/capture.bin.zst"},
		{url: "tcp://localhost:2332", wantKind: KindTCP, wantAddr: "localhost:2332"},
		{url: "", wantErr: ErrEmptyURL},
		{url: "udp://localhost:2332", wantErr: ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, addr, err := Parse(tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Parse(%q) error = %v, want %v", tt.url, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.url, err)
			}
			if kind != tt.wantKind || addr != tt.wantAddr {
				t.Errorf("Parse(%q) = %v %q, want %v %q", tt.url, kind, addr, tt.wantKind, tt.wantAddr)
			}
		})
	}

	if _, _, err := Parse("tcp://nohostport"); err == nil {
		t.Error("tcp url without port accepted")
	}
}

func TestOpenPlainFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "source-test")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x01, 0x41}
	path := filepath.Join(tmpDir, "capture.bin")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("writing capture: %v", err)
	}

	rc, err := Open(context.Background(), Spec{URL: path}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got % X, want % X", got, payload)
	}
}

func TestOpenZstdFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "source-test")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	payload := bytes.Repeat([]byte{0x01, 0x41, 0x01, 0x42}, 1000)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	enc.Close()

	path := filepath.Join(tmpDir, "capture.bin.zst")
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		t.Fatalf("writing capture: %v", err)
	}

	rc, err := Open(context.Background(), Spec{URL: path}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decompressed %d bytes, want %d identical bytes", len(got), len(payload))
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(context.Background(), Spec{URL: "/nonexistent/capture.bin"}, zaptest.NewLogger(t)); err == nil {
		t.Error("Open on a missing file succeeded")
	}
}

func TestTCPReaderReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for _, chunk := range []string{"abc", "def"} {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte(chunk))
			conn.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewTCPReader(ctx, ln.Addr().String(), 10*time.Millisecond, zaptest.NewLogger(t))
	defer r.Close()

	got := make([]byte, 6)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("got %q, want %q", got, "abcdef")
	}
	if r.Connects() != 2 {
		t.Errorf("connects = %d, want 2", r.Connects())
	}
}

func TestTCPReaderStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewTCPReader(ctx, ln.Addr().String(), 10*time.Millisecond, zaptest.NewLogger(t))

	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 16))
		errc <- err
	}()

	conn := <-accepted
	defer conn.Close()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			t.Errorf("Read after cancel = %v, want context.Canceled or EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not return after cancel")
	}
}
