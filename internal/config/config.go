// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

type DispatcherConfig struct {
	Directories DirectoriesConfig `yaml:"directories"`
	Firmware    FirmwareConfig    `yaml:"firmware"`
	Channels    []ChannelConfig   `yaml:"channels"`
	Files       FilesConfig       `yaml:"files"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ---- DIRECTORIES ----

// DirectoriesConfig maps the virtual volume layout onto physical paths.
type DirectoriesConfig struct {
	Base      string `yaml:"base"`
	GCodes    string `yaml:"gcodes"`
	System    string `yaml:"system"`
	Macros    string `yaml:"macros"`
	Filaments string `yaml:"filaments"`
	Web       string `yaml:"web"`
	Scans     string `yaml:"scans"`
}

// ---- FIRMWARE LINK ----

type FirmwareConfig struct {
	Device    string `yaml:"device"`
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	StopBits  int    `yaml:"stop_bits"`
	Parity    string `yaml:"parity"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- CHANNELS ----

// ChannelConfig sets the default compatibility mode of one input channel.
type ChannelConfig struct {
	Name          string `yaml:"name"`
	Compatibility string `yaml:"compatibility"`
}

// ---- WELL-KNOWN FILES ----

type FilesConfig struct {
	ConfigOverride string `yaml:"config_override"`
	IAP            string `yaml:"iap"`
	Firmware       string `yaml:"firmware"`
	Heightmap      string `yaml:"heightmap"`
}

// ---- AMBIENT ----

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads and parses the YAML configuration file.
// It performs no validation; see Validate and Normalize.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
