package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linkbeam/pkg/protocol"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	AppDirectoryName       = "linkbeam"
	DefaultDownloadDir     = "received_files"
	DefaultLogLevel        = "info"
	DefaultMetricsInterval = "1m"
	configFileName         = "config.yaml"
)

// Config holds the user-editable settings of a node. The device id is not
// part of it; a fresh one is generated on every start.
type Config struct {
	DeviceName      string `yaml:"device_name"`
	DiscoveryPort   int    `yaml:"discovery_port"`
	TransferPort    int    `yaml:"transfer_port"`
	BroadcastAddr   string `yaml:"broadcast_addr"`
	DownloadDir     string `yaml:"download_dir"`
	LogFile         string `yaml:"log_file,omitempty"`
	LogLevel        string `yaml:"log_level"`
	MDNS            bool   `yaml:"mdns"`
	MetricsInterval string `yaml:"metrics_interval"`
}

// DefaultPath returns <user config dir>/linkbeam/config.yaml.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, AppDirectoryName, configFileName), nil
}

// Load reads and parses a YAML config file. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = protocol.DiscoveryPort
	}
	if cfg.TransferPort == 0 {
		cfg.TransferPort = protocol.TransferPort
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = protocol.BroadcastAddr
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = DefaultDownloadDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MetricsInterval == "" {
		cfg.MetricsInterval = DefaultMetricsInterval
	}
}

// Validate checks ranges and formats after defaults are applied.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DeviceName) == "" {
		return fmt.Errorf("device_name is required")
	}
	if err := validPort("discovery_port", cfg.DiscoveryPort); err != nil {
		return err
	}
	if err := validPort("transfer_port", cfg.TransferPort); err != nil {
		return err
	}
	if ip := net.ParseIP(cfg.BroadcastAddr); ip == nil || ip.To4() == nil {
		return fmt.Errorf("broadcast_addr %q is not an IPv4 address", cfg.BroadcastAddr)
	}
	if cfg.DownloadDir == "" {
		return fmt.Errorf("download_dir is required")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel)
	}
	if _, err := cfg.MetricsEvery(); err != nil {
		return err
	}
	return nil
}

// MetricsEvery parses MetricsInterval; "0" or "off" disables periodic metrics.
func (c Config) MetricsEvery() (time.Duration, error) {
	switch c.MetricsInterval {
	case "", "0", "off":
		return 0, nil
	}
	d, err := time.ParseDuration(c.MetricsInterval)
	if err != nil {
		return 0, fmt.Errorf("metrics_interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("metrics_interval must not be negative")
	}
	return d, nil
}

// NewDeviceID returns a random identifier for this run.
func NewDeviceID() string {
	return uuid.NewString()
}

func validPort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", field, port)
	}
	return nil
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "linkbeam-device"
	}
	return host
}
