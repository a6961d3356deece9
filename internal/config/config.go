package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EXIFTOOL_MANAGER_SCAN_WORKERS.
const EnvPrefix = "EXIFTOOL_MANAGER"

// Config represents the main configuration structure
type Config struct {
	Exiftool ExiftoolConfig `mapstructure:"exiftool"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Server   ServerConfig   `mapstructure:"server"`
}

// ExiftoolConfig describes how the exiftool binary is run
type ExiftoolConfig struct {
	Path     string        `mapstructure:"path"`
	Timeout  time.Duration `mapstructure:"timeout"`
	StayOpen bool          `mapstructure:"stay_open"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ScanConfig contains directory scan settings
type ScanConfig struct {
	Workers        int      `mapstructure:"workers"`
	BatchSize      int      `mapstructure:"batch_size"`
	Extensions     []string `mapstructure:"extensions"` // empty means every readable extension
	DryRun         bool     `mapstructure:"dry_run"`
	FixMissing     bool     `mapstructure:"fix_missing"`
	Overwrite      bool     `mapstructure:"overwrite"`
	NativeFallback bool     `mapstructure:"native_fallback"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port    int  `mapstructure:"port"`
	Metrics bool `mapstructure:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	logDefaults := logger.DefaultConfig()
	return &Config{
		Exiftool: ExiftoolConfig{
			Path:     exiftool.DefaultPath,
			Timeout:  30 * time.Second,
			StayOpen: false,
		},
		Logging: LoggingConfig{
			Enabled:    logDefaults.Enabled,
			Dir:        logDefaults.Dir,
			Level:      logDefaults.Level,
			Format:     logDefaults.Format,
			MaxSize:    logDefaults.MaxSize,
			MaxBackups: logDefaults.MaxBackups,
			MaxAge:     logDefaults.MaxAge,
			Compress:   logDefaults.Compress,
			Console:    logDefaults.Console,
		},
		Scan: ScanConfig{
			Workers:        4,
			BatchSize:      100,
			DryRun:         false,
			FixMissing:     false,
			Overwrite:      false,
			NativeFallback: true,
		},
		Server: ServerConfig{
			Port:    8080,
			Metrics: true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return load(viper.New(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.exiftool-manager")
		v.AddConfigPath("/etc/exiftool-manager")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys absent
// from the config file.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("exiftool.path", c.Exiftool.Path)
	v.SetDefault("exiftool.timeout", c.Exiftool.Timeout)
	v.SetDefault("exiftool.stay_open", c.Exiftool.StayOpen)

	v.SetDefault("logging.enabled", c.Logging.Enabled)
	v.SetDefault("logging.dir", c.Logging.Dir)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)

	v.SetDefault("scan.workers", c.Scan.Workers)
	v.SetDefault("scan.batch_size", c.Scan.BatchSize)
	v.SetDefault("scan.extensions", c.Scan.Extensions)
	v.SetDefault("scan.dry_run", c.Scan.DryRun)
	v.SetDefault("scan.fix_missing", c.Scan.FixMissing)
	v.SetDefault("scan.overwrite", c.Scan.Overwrite)
	v.SetDefault("scan.native_fallback", c.Scan.NativeFallback)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.metrics", c.Server.Metrics)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Exiftool.Path) == "" {
		c.Exiftool.Path = exiftool.DefaultPath
	}
	if c.Exiftool.Timeout <= 0 {
		return fmt.Errorf("invalid exiftool timeout: %s", c.Exiftool.Timeout)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}
	if c.Logging.Dir != "" {
		c.Logging.Dir = expandPath(c.Logging.Dir)
	}

	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 4
	}
	if c.Scan.BatchSize <= 0 {
		c.Scan.BatchSize = 100
	}
	exts, err := normalizeExtensions(c.Scan.Extensions)
	if err != nil {
		return err
	}
	c.Scan.Extensions = exts

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// Logger converts the logging section for logger.NewLogger.
func (c *Config) Logger() logger.LoggerConfig {
	return logger.LoggerConfig{
		Enabled:    c.Logging.Enabled,
		Level:      c.Logging.Level,
		Dir:        c.Logging.Dir,
		Format:     c.Logging.Format,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
	}
}

// ScanExtension reports whether ext passes the scan extension filter.
func (c *Config) ScanExtension(ext string) bool {
	if len(c.Scan.Extensions) == 0 {
		return true
	}
	ext = strings.ToUpper(strings.TrimPrefix(ext, "."))
	for _, e := range c.Scan.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

// normalizeExtensions upper-cases and strips dots so the filter compares
// with the taxonomy, rejecting extensions no group knows about.
func normalizeExtensions(extensions []string) ([]string, error) {
	known := keywords.Default()
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		found := false
		for _, d := range known {
			if d.HasExtension(ext) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scan extension: %s", ext)
		}
		normalized = append(normalized, ext)
	}
	return normalized, nil
}
