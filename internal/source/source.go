// Package source opens the raw trace byte stream: stdin, a capture file
// (optionally zstd-compressed) or a reconnecting TCP feed.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Kind is the transport behind a source URL.
type Kind int

const (
	KindStdin Kind = iota
	KindFile
	KindTCP
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindFile:
		return "file"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// DefaultReconnectInterval paces redial attempts of a TCP source.
const DefaultReconnectInterval = time.Second

// Spec describes where trace bytes come from.
type Spec struct {
	// URL is "-" for stdin, a file path, "file://path" or "tcp://host:port".
	URL string

	// ReconnectInterval is the minimum time between TCP dial attempts.
	ReconnectInterval time.Duration
}

// Parse splits a source URL into its kind and address.
func Parse(url string) (Kind, string, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return 0, "", ErrEmptyURL
	case url == "-":
		return KindStdin, "", nil
	case strings.HasPrefix(url, "tcp://"):
		addr := strings.TrimPrefix(url, "tcp://")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return 0, "", fmt.Errorf("parsing tcp source %q: %w", url, err)
		}
		return KindTCP, addr, nil
	case strings.HasPrefix(url, "file://"):
		return KindFile, strings.TrimPrefix(url, "file://"), nil
	case strings.Contains(url, "://"):
		return 0, "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, url)
	default:
		return KindFile, url, nil
	}
}

// Open returns a reader for spec. A TCP source keeps reconnecting until ctx
// is cancelled or the reader is closed; stdin and file sources end at EOF.
func Open(ctx context.Context, spec Spec, logger *zap.Logger) (io.ReadCloser, error) {
	kind, addr, err := Parse(spec.URL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindStdin:
		logger.Info("reading trace from stdin")
		return io.NopCloser(os.Stdin), nil
	case KindFile:
		return openFile(addr, logger)
	default:
		interval := spec.ReconnectInterval
		if interval <= 0 {
			interval = DefaultReconnectInterval
		}
		return NewTCPReader(ctx, addr, interval, logger), nil
	}
}

type zstdFile struct {
	io.ReadCloser
	f *os.File
}

func (z *zstdFile) Close() error {
	_ = z.ReadCloser.Close()
	return z.f.Close()
}

func openFile(path string, logger *zap.Logger) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}

	if !strings.HasSuffix(path, ".zst") {
		logger.Info("reading trace file", zap.String("path", path))
		return f, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	logger.Info("reading compressed trace file", zap.String("path", path))
	return &zstdFile{ReadCloser: dec.IOReadCloser(), f: f}, nil
}
