// Package config provides configuration management for cortexlipsync
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configName = "lipsync"
	envPrefix  = "CORTEXLIPSYNC"
)

// Config holds all application configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Tuning   TuningConfig   `mapstructure:"tuning" yaml:"tuning"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
	Sink     SinkConfig     `mapstructure:"sink" yaml:"sink"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	File       bool   `mapstructure:"file" yaml:"file"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// PlaybackConfig describes the audio output the avatar is synced to
type PlaybackConfig struct {
	OutputLatency time.Duration `mapstructure:"output_latency" yaml:"output_latency"`
	FrameRate     float64       `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// IngestConfig configures the word-timing WebSocket
type IngestConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// SinkConfig lists the mesh regions frames are written to
type SinkConfig struct {
	Regions []RegionConfig `mapstructure:"regions" yaml:"regions"`
}

// RegionConfig points at one mesh inside a glTF file. Mode "viseme" uses
// viseme_* morph targets, "arkit" maps onto ARKit mouth blendshapes.
type RegionConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
	Mesh string `mapstructure:"mesh" yaml:"mesh"`
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 1000,
		},
		Tuning: DefaultTuning(),
		Playback: PlaybackConfig{
			OutputLatency: 120 * time.Millisecond,
			FrameRate:     60,
		},
		Ingest: IngestConfig{
			URL:              "ws://localhost:8000/ws",
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Validate checks values the engine cannot run with
func (c *Config) Validate() error {
	if c.Playback.FrameRate <= 0 {
		return errors.New("playback.frame_rate must be positive")
	}
	if c.Playback.OutputLatency < 0 {
		return errors.New("playback.output_latency must not be negative")
	}
	for i, r := range c.Sink.Regions {
		if r.Path == "" {
			return fmt.Errorf("sink.regions[%d]: path is required", i)
		}
		switch r.Mode {
		case "", "viseme", "arkit":
		default:
			return fmt.Errorf("sink.regions[%d]: unknown mode %q", i, r.Mode)
		}
	}
	if _, err := c.Tuning.Tuning(); err != nil {
		return err
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.Logging.Level)
	lc.File = c.Logging.File
	lc.Console = c.Logging.Console
	if c.Logging.Dir != "" {
		lc.LogDir = c.Logging.Dir
	}
	if c.Logging.MaxHistory > 0 {
		lc.MaxHistory = c.Logging.MaxHistory
	}
	return lc
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexlipsync"), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows
	for _, key := range []string{"logging.level", "ingest.url", "playback.output_latency", "playback.frame_rate"} {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads lipsync.yaml from ~/.cortexlipsync or the working directory,
// writing a default file when none exists.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := GetConfigDir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	v := newViper()
	v.SetConfigName(configName)
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg, filepath.Join(configDir, configName+".yaml")); err != nil {
			return cfg, err
		}
	}

	return decode(v, cfg)
}

// LoadFile reads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	return decode(v, cfg)
}

func decode(v *viper.Viper, cfg *Config) (*Config, error) {
	// Tables only carry overrides; Tuning() fills in the rest. Viper keys
	// arrive lowercased and would otherwise sit next to the default keys.
	cfg.Tuning.Gains = nil
	cfg.Tuning.Visibility = nil
	cfg.Tuning.Priority = nil

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
