package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goodtune/tracktime/internal/sampler"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Tracker TrackerConfig `mapstructure:"tracker"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TrackerConfig defines sampling and ledger settings
type TrackerConfig struct {
	DataDir        string   `mapstructure:"data_dir"`        // ledger root
	SampleInterval string   `mapstructure:"sample_interval"` // tick period
	MaxGap         string   `mapstructure:"max_gap"`         // longer gaps are treated as suspend; negative disables
	Exclude        []string `mapstructure:"exclude"`         // app names never tracked
	DetectLock     bool     `mapstructure:"detect_lock"`     // skip ticks while the session is locked
}

// UploadConfig defines where and how often ledgers are pushed
type UploadConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	Destination      string            `mapstructure:"destination"` // "dropbox", "rest" or "redis"
	Interval         string            `mapstructure:"interval"`
	Timeout          string            `mapstructure:"timeout"`
	MaxAttempts      int               `mapstructure:"max_attempts"`
	InitialBackoff   string            `mapstructure:"initial_backoff"`
	RateLimitBackoff string            `mapstructure:"rate_limit_backoff"`
	Dropbox          DropboxConfig     `mapstructure:"dropbox"`
	REST             RESTConfig        `mapstructure:"rest"`
	Redis            RedisUploadConfig `mapstructure:"redis"`
}

// DropboxConfig defines the Dropbox destination
type DropboxConfig struct {
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// RESTConfig defines the REST destination
type RESTConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ResourcePath   string `mapstructure:"resource_path"`
	RefreshPath    string `mapstructure:"refresh_path"`
	CredentialName string `mapstructure:"credential_name"` // key in the credential cache
}

// RedisUploadConfig defines the Redis destination
type RedisUploadConfig struct {
	RedisConfig `mapstructure:",squash"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

// StorageConfig defines the credential cache and upload journal backend
type StorageConfig struct {
	Type          string      `mapstructure:"type"` // "bolt" or "redis"
	Path          string      `mapstructure:"path"`
	RetentionDays int         `mapstructure:"retention_days"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines a Redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// ServerConfig defines the metrics and status endpoint
type ServerConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	BindAddress    string `mapstructure:"bind_address"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // optional, appended to in addition to stdout
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TRACKTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// ValidKeys returns every recognised configuration key.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Tracker defaults
	v.SetDefault("tracker.data_dir", "~/TrackedTime")
	v.SetDefault("tracker.sample_interval", "1s")
	v.SetDefault("tracker.max_gap", "5m")
	v.SetDefault("tracker.exclude", sampler.DefaultExclusions)
	v.SetDefault("tracker.detect_lock", true)

	// Upload defaults
	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.destination", "dropbox")
	v.SetDefault("upload.interval", "1h")
	v.SetDefault("upload.timeout", "30s")
	v.SetDefault("upload.max_attempts", 3)
	v.SetDefault("upload.initial_backoff", "2s")
	v.SetDefault("upload.rate_limit_backoff", "30s")
	v.SetDefault("upload.dropbox.token", "")
	v.SetDefault("upload.dropbox.path_prefix", "/App Tracker/Tracked_Time/")
	v.SetDefault("upload.rest.base_url", "")
	v.SetDefault("upload.rest.resource_path", "/api/trackedtime/")
	v.SetDefault("upload.rest.refresh_path", "/api/token/refresh/")
	v.SetDefault("upload.rest.credential_name", "rest")
	v.SetDefault("upload.redis.key_prefix", "tracktime:")
	setRedisDefaults(v, "upload.redis")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "~/.local/share/tracktime/tracktime.bolt")
	v.SetDefault("storage.retention_days", 90)
	setRedisDefaults(v, "storage.redis")

	// Server defaults
	v.SetDefault("server.metrics_enabled", false)
	v.SetDefault("server.metrics_port", 9464)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

func setRedisDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".host", "localhost")
	v.SetDefault(prefix+".port", 6379)
	v.SetDefault(prefix+".password", "")
	v.SetDefault(prefix+".db", 0)
	v.SetDefault(prefix+".pool_size", 10)
	v.SetDefault(prefix+".min_idle_conns", 1)
	v.SetDefault(prefix+".dial_timeout", "5s")
	v.SetDefault(prefix+".read_timeout", "3s")
	v.SetDefault(prefix+".write_timeout", "3s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	var err error

	if cfg.Tracker.DataDir == "" {
		return fmt.Errorf("tracker.data_dir is required")
	}
	if cfg.Tracker.DataDir, err = ExpandPath(cfg.Tracker.DataDir); err != nil {
		return err
	}

	for key, value := range map[string]string{
		"tracker.sample_interval":   cfg.Tracker.SampleInterval,
		"tracker.max_gap":           cfg.Tracker.MaxGap,
		"upload.interval":           cfg.Upload.Interval,
		"upload.timeout":            cfg.Upload.Timeout,
		"upload.initial_backoff":    cfg.Upload.InitialBackoff,
		"upload.rate_limit_backoff": cfg.Upload.RateLimitBackoff,
	} {
		d, perr := time.ParseDuration(value)
		if perr != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, perr)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s %q: must not be negative", key, value)
		}
	}

	if cfg.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1")
	}

	if cfg.Upload.Enabled {
		switch cfg.Upload.Destination {
		case "dropbox":
			if cfg.Upload.Dropbox.Token == "" {
				return fmt.Errorf("upload.dropbox.token is required for the dropbox destination")
			}
		case "rest":
			if cfg.Upload.REST.BaseURL == "" {
				return fmt.Errorf("upload.rest.base_url is required for the rest destination")
			}
		case "redis":
		default:
			return fmt.Errorf("unsupported upload destination: %s (must be dropbox, rest or redis)", cfg.Upload.Destination)
		}
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "bolt" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if cfg.Storage.Path, err = ExpandPath(cfg.Storage.Path); err != nil {
			return err
		}
		// Ensure storage directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if cfg.Server.MetricsEnabled && (cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Logging.File != "" {
		if cfg.Logging.File, err = ExpandPath(cfg.Logging.File); err != nil {
			return err
		}
	}

	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Duration parses a validated duration string with a fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
