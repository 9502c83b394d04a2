package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Source.URL != "tcp://localhost:2332" {
		t.Errorf("expected default source url, got '%s'", cfg.Source.URL)
	}
	if cfg.Server.Port != 3402 {
		t.Errorf("expected port 3402, got %d", cfg.Server.Port)
	}
	if cfg.Sequencer.Capacity != 4096 {
		t.Errorf("expected capacity 4096, got %d", cfg.Sequencer.Capacity)
	}
	if cfg.Server.LockTimeout != time.Second {
		t.Errorf("expected 1s lock timeout, got %s", cfg.Server.LockTimeout)
	}
	if cfg.Symbols.StableDelay != 100*time.Millisecond {
		t.Errorf("expected 100ms stable delay, got %s", cfg.Symbols.StableDelay)
	}
	if cfg.Output.Format != "raw" || !cfg.HTTP.Enabled || cfg.HTTP.Addr != ":8080" {
		t.Errorf("unexpected output/http defaults: %+v %+v", cfg.Output, cfg.HTTP)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swofeed.yaml")
	yaml := `
source:
  url: /tmp/capture.bin
  tpiu: true
  tpiu_stream: 2
server:
  port: 4000
  lock_timeout: 250ms
output:
  format: text
symbols:
  elf: firmware.elf
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWOFEED_SERVER_PORT", "4100")
	t.Setenv("SWOFEED_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.URL != "/tmp/capture.bin" || !cfg.Source.TPIU || cfg.Source.TPIUStream != 2 {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("expected env to override port, got %d", cfg.Server.Port)
	}
	if cfg.Server.LockTimeout != 250*time.Millisecond {
		t.Errorf("expected 250ms lock timeout, got %s", cfg.Server.LockTimeout)
	}
	if cfg.Output.Format != "text" || cfg.Symbols.ELF != "firmware.elf" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("SWOFEED_OUTPUT_FORMAT", "xml")

	_, err := Load("")
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
}
