package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/swofeed/internal/format"
	"github.com/dgnsrekt/swofeed/internal/source"
)

// InvalidField represents a key whose value was rejected
type InvalidField struct {
	Key    string
	Value  any
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidFields []InvalidField
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidFields) > 0
}

func (e *ValidationErrors) add(key string, value any, reason string) {
	e.InvalidFields = append(e.InvalidFields, InvalidField{Key: key, Value: value, Reason: reason})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.InvalidFields {
		sb.WriteString(fmt.Sprintf("  - %s=%v: %s\n", f.Key, f.Value, f.Reason))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if _, _, err := source.Parse(c.Source.URL); err != nil {
		errs.add("source.url", c.Source.URL, err.Error())
	}
	if c.Source.TPIU && (c.Source.TPIUStream < 1 || c.Source.TPIUStream > 126) {
		errs.add("source.tpiu_stream", c.Source.TPIUStream, "must be in 1..126")
	}
	positive(errs, "source.reconnect_interval", c.Source.ReconnectInterval)

	if c.Sequencer.Capacity < 1 || int64(c.Sequencer.Capacity) > 1<<31 {
		errs.add("sequencer.capacity", c.Sequencer.Capacity, "must be in 1..2147483648")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs.add("server.port", c.Server.Port, "must be in 0..65535")
	}
	if c.Server.QueueDepth < 1 {
		errs.add("server.queue_depth", c.Server.QueueDepth, "must be >= 1")
	}
	positive(errs, "server.lock_timeout", c.Server.LockTimeout)

	if !format.Valid(c.Output.Format) {
		errs.add("output.format", c.Output.Format, "valid formats: "+strings.Join(format.Names(), ", "))
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs.add("http.addr", c.HTTP.Addr, "required when http is enabled")
	}

	if c.Symbols.ELF != "" {
		positive(errs, "symbols.poll_interval", c.Symbols.PollInterval)
		positive(errs, "symbols.stable_delay", c.Symbols.StableDelay)
	}

	if !ValidLogLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level", c.Logging.Level, "valid levels: debug, info, warn, error")
	}
	if c.Logging.Enabled && c.Logging.Directory == "" {
		errs.add("logging.directory", c.Logging.Directory, "required when file logging is enabled")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func positive(errs *ValidationErrors, key string, d time.Duration) {
	if d <= 0 {
		errs.add(key, d, "must be > 0")
	}
}
