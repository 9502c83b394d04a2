package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Server    ServerConfig    `mapstructure:"server"`
	Output    OutputConfig    `mapstructure:"output"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Symbols   SymbolsConfig   `mapstructure:"symbols"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type SourceConfig struct {
	URL               string        `mapstructure:"url"`
	TPIU              bool          `mapstructure:"tpiu"`
	TPIUStream        int           `mapstructure:"tpiu_stream"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type SequencerConfig struct {
	Capacity            int  `mapstructure:"capacity"`
	ReleaseTimeMessages bool `mapstructure:"release_time_messages"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	WebSocket bool   `mapstructure:"websocket"`
}

type SymbolsConfig struct {
	ELF          string        `mapstructure:"elf"`
	StripPrefix  string        `mapstructure:"strip_prefix"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StableDelay  time.Duration `mapstructure:"stable_delay"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.url", "tcp://localhost:2332")
	v.SetDefault("source.tpiu", false)
	v.SetDefault("source.tpiu_stream", 1)
	v.SetDefault("source.reconnect_interval", time.Second)
	v.SetDefault("sequencer.capacity", 4096)
	v.SetDefault("sequencer.release_time_messages", false)
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3402)
	v.SetDefault("server.queue_depth", 1024)
	v.SetDefault("server.lock_timeout", time.Second)
	v.SetDefault("output.format", "raw")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.websocket", true)
	v.SetDefault("symbols.elf", "")
	v.SetDefault("symbols.strip_prefix", "")
	v.SetDefault("symbols.poll_interval", time.Second)
	v.SetDefault("symbols.stable_delay", 100*time.Millisecond)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from defaults, an optional YAML file and
// SWOFEED_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("SWOFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("swofeed")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
