// Package config handles configuration loading, validation, and management for checkind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Target is the check-in destination geofence.
	Target TargetConfig `toml:"target" json:"target" yaml:"target"`

	// Location configures the device location source.
	Location LocationConfig `toml:"location" json:"location" yaml:"location"`

	// Spoof configures the location-authenticity detector.
	Spoof SpoofConfig `toml:"spoof" json:"spoof" yaml:"spoof"`

	// Sync configures the offline sync queue.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	// Storage configures the durable store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Delivery configures the artifact delivery endpoint.
	Delivery DeliveryConfig `toml:"delivery" json:"delivery" yaml:"delivery"`

	// Connectivity configures the connectivity source.
	Connectivity ConnectivityConfig `toml:"connectivity" json:"connectivity" yaml:"connectivity"`

	// Health configures the health endpoint.
	Health HealthConfig `toml:"health" json:"health" yaml:"health"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// TargetConfig describes the geofenced destination.
type TargetConfig struct {
	// Name is a human-readable label for the target.
	Name string `toml:"name" json:"name" yaml:"name"`

	// Address is the street address burned into watermarks.
	Address string `toml:"address" json:"address" yaml:"address"`

	// Latitude in decimal degrees, WGS84.
	Latitude float64 `toml:"latitude" json:"latitude" yaml:"latitude"`

	// Longitude in decimal degrees, WGS84.
	Longitude float64 `toml:"longitude" json:"longitude" yaml:"longitude"`

	// RadiusMeters is the geofence radius. The boundary is inclusive.
	RadiusMeters float64 `toml:"radius_meters" json:"radius_meters" yaml:"radius_meters"`
}

// LocationConfig holds location source configuration.
type LocationConfig struct {
	// UpdateIntervalMs is the sample cadence in milliseconds.
	UpdateIntervalMs int `toml:"update_interval_ms" json:"update_interval_ms" yaml:"update_interval_ms"`

	// DistanceFilterMeters suppresses samples closer than this to the
	// previous one. 0 disables the filter.
	DistanceFilterMeters float64 `toml:"distance_filter_meters" json:"distance_filter_meters" yaml:"distance_filter_meters"`

	// ScriptPath points at a JSON sample script to replay instead of a
	// live source. Empty means no replay.
	ScriptPath string `toml:"script_path" json:"script_path" yaml:"script_path"`
}

// SpoofConfig holds authenticity detector configuration.
type SpoofConfig struct {
	// ImpossibleSpeedMps is the movement heuristic's speed ceiling.
	ImpossibleSpeedMps float64 `toml:"impossible_speed_mps" json:"impossible_speed_mps" yaml:"impossible_speed_mps"`

	// HistoryCapacity bounds the detector's sample history.
	HistoryCapacity int `toml:"history_capacity" json:"history_capacity" yaml:"history_capacity"`
}

// SyncConfig holds sync queue configuration.
type SyncConfig struct {
	// MaxRetries bounds soft-failure retries before an item goes failed.
	MaxRetries int `toml:"max_retries" json:"max_retries" yaml:"max_retries"`

	// BaseRetryDelayMs is the exponential backoff base in milliseconds.
	BaseRetryDelayMs int `toml:"base_retry_delay_ms" json:"base_retry_delay_ms" yaml:"base_retry_delay_ms"`

	// DrainIntervalMs is the periodic drain cadence in milliseconds.
	DrainIntervalMs int `toml:"drain_interval_ms" json:"drain_interval_ms" yaml:"drain_interval_ms"`

	// SyncedGraceMs is how long a synced item stays visible before
	// removal, in milliseconds.
	SyncedGraceMs int `toml:"synced_grace_ms" json:"synced_grace_ms" yaml:"synced_grace_ms"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DeliveryConfig holds delivery endpoint configuration.
type DeliveryConfig struct {
	// Endpoint is the artifact submission URL.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// TimeoutSec bounds one delivery attempt.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// ConnectivityConfig holds connectivity source configuration.
type ConnectivityConfig struct {
	// Source selects the implementation: "networkmanager", "probe", or
	// "manual".
	Source string `toml:"source" json:"source" yaml:"source"`

	// ProbeAddress is the host:port dialed by the probe source.
	ProbeAddress string `toml:"probe_address" json:"probe_address" yaml:"probe_address"`

	// ProbeIntervalSec is the probe cadence.
	ProbeIntervalSec int `toml:"probe_interval_sec" json:"probe_interval_sec" yaml:"probe_interval_sec"`
}

// HealthConfig holds health endpoint configuration.
type HealthConfig struct {
	// Enabled determines whether the HTTP health endpoint is served.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the health endpoint bind address.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", "file", "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	dir := CheckindDir()
	return &Config{
		Target: TargetConfig{
			Name:         "Drake Bay Station",
			Address:      "Drake Bay, Osa Peninsula, Costa Rica",
			Latitude:     8.639,
			Longitude:    -83.162,
			RadiusMeters: 500,
		},
		Location: LocationConfig{
			UpdateIntervalMs:     3000,
			DistanceFilterMeters: 5,
		},
		Spoof: SpoofConfig{
			ImpossibleSpeedMps: 340,
			HistoryCapacity:    10,
		},
		Sync: SyncConfig{
			MaxRetries:       5,
			BaseRetryDelayMs: 2000,
			DrainIntervalMs:  15000,
			SyncedGraceMs:    3000,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dir, "checkind.db"),
		},
		Delivery: DeliveryConfig{
			Endpoint:   "",
			TimeoutSec: 30,
		},
		Connectivity: ConnectivityConfig{
			Source:           defaultConnectivitySource(),
			ProbeAddress:     "1.1.1.1:443",
			ProbeIntervalSec: 10,
		},
		Health: HealthConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8787",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "checkind.log"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(CheckindDir(), "config.toml")
}

// CheckindDir returns the base checkind data directory.
// Uses platform-specific paths or a CHECKIND_DATA_DIR environment override.
func CheckindDir() string {
	if envDir := os.Getenv("CHECKIND_DATA_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "checkind")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "checkind")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "checkind")
		}
		return filepath.Join(home, ".local", "share", "checkind")
	default:
		return filepath.Join(home, ".checkind")
	}
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with CHECKIND_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("CHECKIND_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHECKIND_ENDPOINT"); v != "" {
		c.Delivery.Endpoint = v
	}
	if v := os.Getenv("CHECKIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHECKIND_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("CHECKIND_CONNECTIVITY_SOURCE"); v != "" {
		c.Connectivity.Source = v
	}
	if v := os.Getenv("CHECKIND_TARGET_LAT"); v != "" {
		if lat, err := strconv.ParseFloat(v, 64); err == nil {
			c.Target.Latitude = lat
		}
	}
	if v := os.Getenv("CHECKIND_TARGET_LNG"); v != "" {
		if lng, err := strconv.ParseFloat(v, 64); err == nil {
			c.Target.Longitude = lng
		}
	}
	if v := os.Getenv("CHECKIND_TARGET_RADIUS_M"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			c.Target.RadiusMeters = r
		}
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Target:       c.Target,
		Location:     c.Location,
		Spoof:        c.Spoof,
		Sync:         c.Sync,
		Storage:      c.Storage,
		Delivery:     c.Delivery,
		Connectivity: c.Connectivity,
		Health:       c.Health,
		Logging:      c.Logging,
	}
	return clone
}

func defaultConnectivitySource() string {
	if runtime.GOOS == "linux" {
		return "networkmanager"
	}
	return "probe"
}
