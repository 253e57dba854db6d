package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
)

// Config is the sync engine runtime configuration.
type Config struct {
	DataDir      string
	LogLevel     string
	SyncInterval time.Duration
	APIBind      string
	// ConflictStrategy is use_local, use_remote or blank. Blank leaves
	// conflicts unresolved.
	ConflictStrategy string

	Connectivity ConnectivityConfig
	Remote       RemoteConfig
	Breaker      BreakerConfig
}

// ConnectivityConfig configures the TCP reachability probe.
type ConnectivityConfig struct {
	ProbeAddress  string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// RemoteConfig configures the object-store remote writer. An empty
// Endpoint means no remote is configured.
type RemoteConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	RateLimit float64 // writes per second, 0 = unlimited
	Burst     int
}

// BreakerConfig configures the circuit breaker around the remote writer.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

const (
	defaultConfigPath    = "~/.config/syncengine/config.toml"
	defaultDataDir       = "~/.local/share/syncengine"
	defaultLogLevel      = "info"
	defaultSyncInterval  = 5 * time.Minute
	defaultAPIBind       = "127.0.0.1:8090"
	defaultProbeAddress  = "1.1.1.1:443"
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 3 * time.Second
	defaultPrefix        = "mutations"
	defaultBurst         = 1
	defaultMaxFailures   = 5
	defaultOpenTimeout   = 30 * time.Second
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:      mustExpand(defaultDataDir),
		LogLevel:     defaultLogLevel,
		SyncInterval: defaultSyncInterval,
		APIBind:      defaultAPIBind,
		Connectivity: ConnectivityConfig{
			ProbeAddress:  defaultProbeAddress,
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
		},
		Remote: RemoteConfig{
			Prefix: defaultPrefix,
			Burst:  defaultBurst,
		},
		Breaker: BreakerConfig{
			MaxFailures: defaultMaxFailures,
			OpenTimeout: defaultOpenTimeout,
		},
	}
}

type rawConfig struct {
	DataDir      string `toml:"data_dir"`
	LogLevel     string `toml:"log_level"`
	SyncInterval string `toml:"sync_interval"`
	APIBind      string `toml:"api_bind"`

	ConflictStrategy string `toml:"conflict_strategy"`

	Connectivity struct {
		ProbeAddress  string `toml:"probe_address"`
		ProbeInterval string `toml:"probe_interval"`
		ProbeTimeout  string `toml:"probe_timeout"`
	} `toml:"connectivity"`

	Remote struct {
		Endpoint  string  `toml:"endpoint"`
		Bucket    string  `toml:"bucket"`
		Prefix    string  `toml:"prefix"`
		AccessKey string  `toml:"access_key"`
		SecretKey string  `toml:"secret_key"`
		UseSSL    bool    `toml:"use_ssl"`
		Region    string  `toml:"region"`
		RateLimit float64 `toml:"rate_limit"`
		Burst     int     `toml:"burst"`
	} `toml:"remote"`

	Breaker struct {
		MaxFailures uint32 `toml:"max_failures"`
		OpenTimeout string `toml:"open_timeout"`
	} `toml:"breaker"`
}

// Load locates and parses the config file, falling back to defaults when
// it is missing. Blank values use their defaults.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrConfigInvalid, "parse config", err)
	}

	if v := strings.TrimSpace(raw.DataDir); v != "" {
		cfg.DataDir = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.APIBind); v != "" {
		cfg.APIBind = v
	}
	cfg.ConflictStrategy = strings.ToLower(strings.TrimSpace(raw.ConflictStrategy))
	if cfg.SyncInterval, err = duration("sync_interval", raw.SyncInterval, cfg.SyncInterval); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(raw.Connectivity.ProbeAddress); v != "" {
		cfg.Connectivity.ProbeAddress = v
	}
	if cfg.Connectivity.ProbeInterval, err = duration("connectivity.probe_interval", raw.Connectivity.ProbeInterval, cfg.Connectivity.ProbeInterval); err != nil {
		return Config{}, err
	}
	if cfg.Connectivity.ProbeTimeout, err = duration("connectivity.probe_timeout", raw.Connectivity.ProbeTimeout, cfg.Connectivity.ProbeTimeout); err != nil {
		return Config{}, err
	}

	cfg.Remote.Endpoint = strings.TrimSpace(raw.Remote.Endpoint)
	cfg.Remote.Bucket = strings.TrimSpace(raw.Remote.Bucket)
	if v := strings.Trim(strings.TrimSpace(raw.Remote.Prefix), "/"); v != "" {
		cfg.Remote.Prefix = v
	}
	cfg.Remote.AccessKey = strings.TrimSpace(raw.Remote.AccessKey)
	cfg.Remote.SecretKey = strings.TrimSpace(raw.Remote.SecretKey)
	cfg.Remote.UseSSL = raw.Remote.UseSSL
	cfg.Remote.Region = strings.TrimSpace(raw.Remote.Region)
	cfg.Remote.RateLimit = raw.Remote.RateLimit
	if raw.Remote.Burst > 0 {
		cfg.Remote.Burst = raw.Remote.Burst
	}

	if raw.Breaker.MaxFailures > 0 {
		cfg.Breaker.MaxFailures = raw.Breaker.MaxFailures
	}
	if cfg.Breaker.OpenTimeout, err = duration("breaker.open_timeout", raw.Breaker.OpenTimeout, cfg.Breaker.OpenTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync_interval must be positive")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		problems = append(problems, "connectivity.probe_interval must be positive")
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		problems = append(problems, "connectivity.probe_timeout must be positive")
	}
	if c.Remote.RateLimit < 0 {
		problems = append(problems, "remote.rate_limit must not be negative")
	}
	if c.Breaker.OpenTimeout <= 0 {
		problems = append(problems, "breaker.open_timeout must be positive")
	}
	switch c.ConflictStrategy {
	case "", "use_local", "use_remote":
	default:
		problems = append(problems, "conflict_strategy must be use_local, use_remote or empty")
	}
	if c.Remote.Endpoint != "" && c.Remote.Bucket == "" {
		problems = append(problems, "remote.bucket is required when remote.endpoint is set")
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// HasRemote reports whether a remote endpoint is configured.
func (c Config) HasRemote() bool {
	return c.Remote.Endpoint != ""
}

// LogPath returns the engine log file path.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "syncengine.log")
}

func duration(field, raw string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrConfigInvalid, "parse "+field, err)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves ~ and relative paths to an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
