// Package config loads the musicpi YAML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/james-see/musicpi/pkg/mpp"
)

// DefaultPath is the config file looked up when none is given
const DefaultPath = "musicpi.yaml"

// ListenConfig is the protocol server endpoint
type ListenConfig struct {
	Network string `yaml:"network"` // tcp or udp
	Address string `yaml:"address"`
}

// HTTPConfig is the gateway endpoint
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// RFIDConfig selects the badge reader. Port wins over TagFile when both are
// set.
type RFIDConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	TagFile string `yaml:"tag_file"`
}

// Config is the main configuration structure
type Config struct {
	DBRoot     string       `yaml:"db_root"`
	Listen     ListenConfig `yaml:"listen"`
	HTTP       HTTPConfig   `yaml:"http"`
	BufferSize int          `yaml:"buffer_size"`
	Log        LogConfig    `yaml:"log"`
	RFID       RFIDConfig   `yaml:"rfid"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		DBRoot: "db",
		Listen: ListenConfig{
			Network: "tcp",
			Address: ":8700",
		},
		HTTP: HTTPConfig{
			Address: ":8080",
		},
		BufferSize: mpp.BufferSize,
		Log: LogConfig{
			Level: "info",
		},
		RFID: RFIDConfig{
			Baud:    9600,
			TagFile: "ressources/tag",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values Load cannot default
func (c *Config) Validate() error {
	switch c.Listen.Network {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("listen.network %q: want tcp or udp", c.Listen.Network)
	}
	if c.BufferSize < 64 {
		return fmt.Errorf("buffer_size %d too small", c.BufferSize)
	}
	if c.DBRoot == "" {
		return errors.New("db_root is empty")
	}
	return nil
}

// Save writes the config to path
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
