package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/tracktime/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the tracktime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys. A
// missing file has none.
func findUnknownKeys(configPath string) ([]string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)
	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	// Tracker
	_, _ = cyan.Fprintln(w, "\n[tracker]")
	field("  data_dir", cfg.Tracker.DataDir, expanded(defaultCfg.Tracker.DataDir))
	field("  sample_interval", cfg.Tracker.SampleInterval, defaultCfg.Tracker.SampleInterval)
	field("  max_gap", cfg.Tracker.MaxGap, defaultCfg.Tracker.MaxGap)
	field("  exclude", cfg.Tracker.Exclude, defaultCfg.Tracker.Exclude)
	field("  detect_lock", cfg.Tracker.DetectLock, defaultCfg.Tracker.DetectLock)

	// Upload
	_, _ = cyan.Fprintln(w, "\n[upload]")
	field("  enabled", cfg.Upload.Enabled, defaultCfg.Upload.Enabled)
	field("  destination", cfg.Upload.Destination, defaultCfg.Upload.Destination)
	field("  interval", cfg.Upload.Interval, defaultCfg.Upload.Interval)
	field("  timeout", cfg.Upload.Timeout, defaultCfg.Upload.Timeout)
	field("  max_attempts", cfg.Upload.MaxAttempts, defaultCfg.Upload.MaxAttempts)
	field("  initial_backoff", cfg.Upload.InitialBackoff, defaultCfg.Upload.InitialBackoff)
	field("  rate_limit_backoff", cfg.Upload.RateLimitBackoff, defaultCfg.Upload.RateLimitBackoff)
	_, _ = cyan.Fprintln(w, "  [upload.dropbox]")
	field("    token", redactPassword(cfg.Upload.Dropbox.Token), redactPassword(defaultCfg.Upload.Dropbox.Token))
	field("    path_prefix", cfg.Upload.Dropbox.PathPrefix, defaultCfg.Upload.Dropbox.PathPrefix)
	_, _ = cyan.Fprintln(w, "  [upload.rest]")
	field("    base_url", cfg.Upload.REST.BaseURL, defaultCfg.Upload.REST.BaseURL)
	field("    resource_path", cfg.Upload.REST.ResourcePath, defaultCfg.Upload.REST.ResourcePath)
	field("    refresh_path", cfg.Upload.REST.RefreshPath, defaultCfg.Upload.REST.RefreshPath)
	field("    credential_name", cfg.Upload.REST.CredentialName, defaultCfg.Upload.REST.CredentialName)
	_, _ = cyan.Fprintln(w, "  [upload.redis]")
	field("    key_prefix", cfg.Upload.Redis.KeyPrefix, defaultCfg.Upload.Redis.KeyPrefix)
	dumpRedis(field, "    ", cfg.Upload.Redis.RedisConfig, defaultCfg.Upload.Redis.RedisConfig)

	// Storage
	_, _ = cyan.Fprintln(w, "\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  path", cfg.Storage.Path, expanded(defaultCfg.Storage.Path))
	field("  retention_days", cfg.Storage.RetentionDays, defaultCfg.Storage.RetentionDays)
	_, _ = cyan.Fprintln(w, "  [storage.redis]")
	dumpRedis(field, "    ", cfg.Storage.Redis, defaultCfg.Storage.Redis)

	// Server
	_, _ = cyan.Fprintln(w, "\n[server]")
	field("  metrics_enabled", cfg.Server.MetricsEnabled, defaultCfg.Server.MetricsEnabled)
	field("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort)
	field("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress)

	// Logging
	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)
	field("  file", cfg.Logging.File, defaultCfg.Logging.File)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Fprintln(w, "\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(w, "  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

func dumpRedis(field func(string, interface{}, interface{}), indent string, cfg, def config.RedisConfig) {
	field(indent+"host", cfg.Host, def.Host)
	field(indent+"port", cfg.Port, def.Port)
	field(indent+"password", redactPassword(cfg.Password), redactPassword(def.Password))
	field(indent+"db", cfg.DB, def.DB)
	field(indent+"pool_size", cfg.PoolSize, def.PoolSize)
	field(indent+"min_idle_conns", cfg.MinIdleConns, def.MinIdleConns)
	field(indent+"dial_timeout", cfg.DialTimeout, def.DialTimeout)
	field(indent+"read_timeout", cfg.ReadTimeout, def.ReadTimeout)
	field(indent+"write_timeout", cfg.WriteTimeout, def.WriteTimeout)
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// expanded resolves ~ in a default path so it compares equal to the
// loaded, already expanded value.
func expanded(path string) string {
	if p, err := config.ExpandPath(path); err == nil {
		return p
	}
	return path
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
