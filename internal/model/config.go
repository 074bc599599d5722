package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName is used for the config directory, keyring service and log file.
const AppName = "emailflesh"

// Defaults applied when the config file or a key is missing.
const (
	DefaultIMAPHost          = "imap.gmail.com"
	DefaultIMAPPort          = "993"
	DefaultFolder            = "inbox"
	DefaultConnectTimeoutSec = 30
	DefaultCommandTimeoutSec = 120
	DefaultLogLevel          = "info"
	DefaultDestinationName   = "Email Attachments"
)

// IMAPConfig holds the mail server settings.
type IMAPConfig struct {
	// Host is the IMAP server hostname. Connections always use implicit TLS.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port (993 for implicit TLS).
	Port string `mapstructure:"port" yaml:"port"`

	// Folder is the mailbox scanned for attachments.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// ConnectTimeoutSec bounds dialing, the TLS handshake and login.
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`

	// CommandTimeoutSec bounds each SELECT, SEARCH and FETCH.
	CommandTimeoutSec int `mapstructure:"command_timeout_sec" yaml:"command_timeout_sec"`
}

// ConnectTimeout returns ConnectTimeoutSec as a duration.
func (c IMAPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// CommandTimeout returns CommandTimeoutSec as a duration.
func (c IMAPConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// Address returns host:port.
func (c IMAPConfig) Address() string {
	return c.Host + ":" + c.Port
}

// DownloadConfig holds where attachments are written.
type DownloadConfig struct {
	Destination string `mapstructure:"destination" yaml:"destination"`
}

// ProgressConfig locates the checkpoint document.
type ProgressConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HistoryConfig locates the download ledger database.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the diagnostic log.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/emailflesh/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", AppName, "config.yaml")
}

// DataDir returns the platform application-data directory for emailflesh.
func DataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+AppName)
	}
	return filepath.Join(dir, AppName)
}

// DefaultDestination returns "Email Attachments" under the working directory.
func DefaultDestination() string {
	wd, err := os.Getwd()
	if err != nil {
		return DefaultDestinationName
	}
	return filepath.Join(wd, DefaultDestinationName)
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dataDir := DataDir()
	return &AppConfig{
		IMAP: IMAPConfig{
			Host:              DefaultIMAPHost,
			Port:              DefaultIMAPPort,
			Folder:            DefaultFolder,
			ConnectTimeoutSec: DefaultConnectTimeoutSec,
			CommandTimeoutSec: DefaultCommandTimeoutSec,
		},
		Download: DownloadConfig{Destination: DefaultDestination()},
		Progress: ProgressConfig{Path: filepath.Join(dataDir, "progress.json")},
		History:  HistoryConfig{Path: filepath.Join(dataDir, "history.db")},
		Log: LogConfig{
			File:  filepath.Join(dataDir, AppName+".log"),
			Level: DefaultLogLevel,
		},
	}
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return defaultAppConfig()
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration with
// environment overrides (EMAILFLESH_IMAP_HOST and so on) applied.
func LoadConfig(path string) (*AppConfig, error) {
	defaults := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("imap.host", defaults.IMAP.Host)
	v.SetDefault("imap.port", defaults.IMAP.Port)
	v.SetDefault("imap.folder", defaults.IMAP.Folder)
	v.SetDefault("imap.connect_timeout_sec", defaults.IMAP.ConnectTimeoutSec)
	v.SetDefault("imap.command_timeout_sec", defaults.IMAP.CommandTimeoutSec)
	v.SetDefault("download.destination", defaults.Download.Destination)
	v.SetDefault("progress.path", defaults.Progress.Path)
	v.SetDefault("history.path", defaults.History.Path)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.level", defaults.Log.Level)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.IMAP.ConnectTimeoutSec <= 0 {
		cfg.IMAP.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}
	if cfg.IMAP.CommandTimeoutSec <= 0 {
		cfg.IMAP.CommandTimeoutSec = DefaultCommandTimeoutSec
	}
	if cfg.IMAP.Folder == "" {
		cfg.IMAP.Folder = DefaultFolder
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", cfg.IMAP)
	v.Set("download", cfg.Download)
	v.Set("progress", cfg.Progress)
	v.Set("history", cfg.History)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
