package main

import (
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/swofeed/internal/config"
	"github.com/dgnsrekt/swofeed/internal/pipeline"
	"github.com/dgnsrekt/swofeed/internal/source"
	"github.com/dgnsrekt/swofeed/internal/symbols"
)

// sourceFlags are the flags shared by commands that read a trace source.
type sourceFlags struct {
	url        string
	tpiu       bool
	tpiuStream int
	format     string
	elf        string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.url, "source", "s", "", "trace source: tcp://host:port, file path, or - for stdin")
	cmd.Flags().BoolVar(&f.tpiu, "tpiu", false, "input is TPIU framed")
	cmd.Flags().IntVar(&f.tpiuStream, "tpiu-stream", 1, "TPIU stream carrying ITM")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "output format (raw, json, msgpack, proto, text)")
	cmd.Flags().StringVarP(&f.elf, "elf", "e", "", "ELF image for symbol lookups")
}

// apply copies explicitly set flags over the loaded config and revalidates.
func (f *sourceFlags) apply(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("source") {
		c.Source.URL = f.url
	}
	if flags.Changed("tpiu") {
		c.Source.TPIU = f.tpiu
	}
	if flags.Changed("tpiu-stream") {
		c.Source.TPIUStream = f.tpiuStream
	}
	if flags.Changed("format") {
		c.Output.Format = f.format
	}
	if flags.Changed("elf") {
		c.Symbols.ELF = f.elf
	}
	return c.Validate()
}

func pipelineConfig(c *config.Config) pipeline.Config {
	return pipeline.Config{
		Format:              c.Output.Format,
		TPIU:                c.Source.TPIU,
		TPIUStream:          c.Source.TPIUStream,
		Capacity:            c.Sequencer.Capacity,
		ReleaseTimeMessages: c.Sequencer.ReleaseTimeMessages,
	}
}

func sourceSpec(c *config.Config) source.Spec {
	return source.Spec{
		URL:               c.Source.URL,
		ReconnectInterval: c.Source.ReconnectInterval,
	}
}

// loadSymbols loads the configured ELF once. With no ELF configured the
// returned resolver only classifies EXC_RETURN values.
func loadSymbols(c *config.Config) (*symbols.Reloadable, error) {
	resolver := symbols.NewReloadable(nil)
	if c.Symbols.ELF == "" {
		return resolver, nil
	}
	set, err := symbols.Load(c.Symbols.ELF, symbols.Options{StripPrefix: c.Symbols.StripPrefix})
	if err != nil {
		return nil, err
	}
	resolver.Swap(set)
	return resolver, nil
}
