package main

import (
	"bufio"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/swofeed/internal/format"
	"github.com/dgnsrekt/swofeed/internal/pipeline"
	"github.com/dgnsrekt/swofeed/internal/source"
)

// writerSink writes every batch to w.
type writerSink struct {
	w *bufio.Writer
}

func (s *writerSink) Broadcast(buf []byte) error {
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	return s.w.Flush()
}

func decodeCmd() *cobra.Command {
	var src sourceFlags

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a trace source to stdout",
		Long: `Decode SWO/ITM trace through the resequencer and write the formatted
events to stdout. The output format defaults to text when the configured
format is raw.

Examples:
  # Decode a capture file
  swofeed decode --source capture.bin

  # Decode a live probe as JSON lines with symbol names
  swofeed decode --source tcp://localhost:2332 --format json --elf firmware.elf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := src.apply(cmd, cfg); err != nil {
				return err
			}
			if !cmd.Flags().Changed("format") && cfg.Output.Format == format.Raw {
				cfg.Output.Format = "text"
			}

			resolver, err := loadSymbols(cfg)
			if err != nil {
				return err
			}

			out := &writerSink{w: bufio.NewWriter(os.Stdout)}
			p, err := pipeline.New(pipelineConfig(cfg), resolver, logger, out)
			if err != nil {
				return err
			}

			r, err := source.Open(cmd.Context(), sourceSpec(cfg), logger)
			if err != nil {
				return err
			}
			return decode(cmd, p, r)
		},
	}

	src.register(cmd)
	return cmd
}

func decode(cmd *cobra.Command, p *pipeline.Pipeline, r io.ReadCloser) error {
	defer r.Close()

	err := p.Run(cmd.Context(), r)
	st := p.Snapshot()
	logger.Info("decode finished",
		zap.Uint64("bytesIn", st.BytesIn),
		zap.Uint64("events", st.Events),
		zap.Uint64("lost", st.Lost),
		zap.Uint64("resyncs", st.Decoder.Resyncs),
	)
	return err
}
