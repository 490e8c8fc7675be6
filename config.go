package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// Config is the daemon's top-level configuration tree, loaded from a single
// YAML file.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Profiles   map[string]ProfileConfig  `yaml:"profiles"`
	Calibration CalibrationConfig        `yaml:"calibration"`
	Prometheus PrometheusConfig          `yaml:"prometheus"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// ServerConfig controls the control-surface websocket listener.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	DefaultProfile string `yaml:"default_profile"`
	MaxDevices     int    `yaml:"max_devices"`
}

// ProfileConfig lets an operator declare custom profiles alongside the
// built-in FAST/STANDARD/ROBUST presets, as entries of the profiles map
// keyed by profile name.
type ProfileConfig struct {
	NumChannels       int    `yaml:"num_channels"`
	ChannelSpacingHz  int    `yaml:"channel_spacing_hz"`
	SymbolDurationMs  int    `yaml:"symbol_duration_ms"`
	Modulation        string `yaml:"modulation"`
	UseBinaryPayload  bool   `yaml:"use_binary_payload"`
	ChunkSize         int    `yaml:"chunk_size"`
	MaxRetries        int    `yaml:"max_retries"`
	CompressionMinLen int    `yaml:"compression_min_size"`
}

// CalibrationConfig controls whether adaptive transmit power is enabled.
// The "quick" and "full" calibrate durations are fixed constants in
// transfer/calibrate and are not configurable here.
type CalibrationConfig struct {
	AdaptivePower bool `yaml:"adaptive_power"`
}

// PrometheusConfig holds a listen address for the metrics endpoint,
// disabled unless Enabled is set.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig is intentionally minimal; the daemon always logs to stderr
// via the standard log package. Debug is parsed but no code reads it, so it
// does not change what is logged.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// LoadConfig reads and parses filename, applying defaults and validating
// any custom profiles declared under profiles.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8900"
	}
	if c.Server.DefaultProfile == "" {
		c.Server.DefaultProfile = "STANDARD"
	}
	if c.Server.MaxDevices <= 0 {
		c.Server.MaxDevices = 64
	}
	if c.Prometheus.Listen == "" {
		c.Prometheus.Listen = ":9091"
	}
}

// Validate checks configuration invariants, including that every declared
// custom profile parses into a valid transfer/profile.Profile.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxDevices < 1 {
		return fmt.Errorf("server.max_devices must be at least 1")
	}
	for name, pc := range c.Profiles {
		if _, err := pc.toProfile(name); err != nil {
			return fmt.Errorf("profiles.%s: %w", name, err)
		}
	}
	if _, err := c.resolveProfile(c.Server.DefaultProfile); err != nil {
		return fmt.Errorf("server.default_profile: %w", err)
	}
	return nil
}

func (pc ProfileConfig) toProfile(name string) (profile.Profile, error) {
	p := profile.Profile{
		Name:              name,
		NumChannels:       pc.NumChannels,
		ChannelSpacingHz:  pc.ChannelSpacingHz,
		SymbolDurationMs:  pc.SymbolDurationMs,
		ModulationName:    pc.Modulation,
		UseBinaryPayload:  pc.UseBinaryPayload,
		ChunkSize:         pc.ChunkSize,
		MaxRetries:        pc.MaxRetries,
		CompressionMinLen: pc.CompressionMinLen,
	}
	if err := p.Validate(); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

// resolveProfile looks up name first among config-declared custom profiles,
// then among the built-in presets.
func (c *Config) resolveProfile(name string) (profile.Profile, error) {
	if pc, ok := c.Profiles[name]; ok {
		return pc.toProfile(name)
	}
	return profile.Named(name)
}
