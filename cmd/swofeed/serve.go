package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/swofeed/internal/config"
	"github.com/dgnsrekt/swofeed/internal/fanout"
	"github.com/dgnsrekt/swofeed/internal/pipeline"
	"github.com/dgnsrekt/swofeed/internal/source"
	"github.com/dgnsrekt/swofeed/internal/status"
	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	sourceStopWait  = time.Second
)

func serveCmd() *cobra.Command {
	var (
		src      sourceFlags
		port     int
		host     string
		httpAddr string
		noHTTP   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Decode a trace source and serve it to TCP clients",
		Long: `Read SWO/ITM trace from a source, resequence it, and broadcast every
batch to all connected TCP clients. A status API and a WebSocket mirror of
the feed are served over HTTP unless disabled.

Examples:
  # Relay a probe's SWO port to clients on 3402
  swofeed serve --source tcp://localhost:2332

  # Serve decoded text with symbol names from the firmware image
  swofeed serve --format text --elf build/firmware.elf

  # Replay a compressed capture
  swofeed serve --source capture.bin.zst --no-http`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if noHTTP {
				cfg.HTTP.Enabled = false
			}
			if err := src.apply(cmd, cfg); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	src.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 3402, "TCP port for trace clients")
	cmd.Flags().StringVar(&host, "host", "", "address to bind the TCP server to")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "status API listen address")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the status API and WebSocket mirror")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Components below stop when the source ends, not only on a signal.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver := symbols.NewReloadable(nil)
	var watcher *symbols.Watcher
	if cfg.Symbols.ELF != "" {
		watcher = symbols.NewWatcher(symbols.WatcherConfig{
			Path:         cfg.Symbols.ELF,
			Options:      symbols.Options{StripPrefix: cfg.Symbols.StripPrefix},
			PollInterval: cfg.Symbols.PollInterval,
			StableDelay:  cfg.Symbols.StableDelay,
		}, resolver, logger)
		go watcher.Run(runCtx)
	}

	feed, err := fanout.Start(cfg.Server.Port, logger,
		fanout.WithHost(cfg.Server.Host),
		fanout.WithQueueDepth(cfg.Server.QueueDepth),
		fanout.WithLockTimeout(cfg.Server.LockTimeout),
	)
	if err != nil {
		return err
	}
	defer stopFeed(feed, logger)

	sinks := []pipeline.Sink{feed}
	var hub *ws.Hub
	if cfg.HTTP.Enabled && cfg.HTTP.WebSocket {
		hub = ws.NewHub(logger)
		go hub.Run(runCtx)
		sinks = append(sinks, hub)
	}

	p, err := pipeline.New(pipelineConfig(cfg), resolver, logger, sinks...)
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		h := &status.Handler{Feed: feed, Pipeline: p, Symbols: resolver, Logger: logger}
		if hub != nil {
			h.Hub = hub
		}
		if watcher != nil {
			h.Reloader = watcher
		}
		httpServer, err := startHTTP(cfg.HTTP.Addr, h, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown error", zap.Error(err))
			}
		}()
	}

	r, err := source.Open(runCtx, sourceSpec(cfg), logger)
	if err != nil {
		return err
	}
	return runPipeline(runCtx, p, r, logger)
}

// runPipeline runs p until the source ends or ctx is cancelled. A source
// blocked in Read (stdin) is abandoned after a short wait.
func runPipeline(ctx context.Context, p *pipeline.Pipeline, r io.ReadCloser, logger *zap.Logger) error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, r) }()

	var err error
	select {
	case err = <-done:
		_ = r.Close()
	case <-ctx.Done():
		_ = r.Close()
		select {
		case err = <-done:
		case <-time.After(sourceStopWait):
			logger.Warn("trace source did not stop, abandoning it")
		}
	}

	st := p.Snapshot()
	logger.Info("pipeline finished",
		zap.Uint64("bytesIn", st.BytesIn),
		zap.Uint64("events", st.Events),
		zap.Uint64("lost", st.Lost),
	)
	return err
}

func startHTTP(addr string, h *status.Handler, logger *zap.Logger) (*http.Server, error) {
	router, err := status.NewRouter(h, logger.Named("http"))
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting status server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return httpServer, nil
}

func stopFeed(feed *fanout.Server, logger *zap.Logger) {
	logger.Info("shutting down fanout server...")
	feed.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := feed.Wait(ctx); err != nil {
		logger.Warn("fanout server did not drain", zap.Error(err))
	}
}
