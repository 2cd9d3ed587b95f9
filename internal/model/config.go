package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// IMAPConfig holds settings for the monitored mailbox.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty and resolved from the OS keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// Folder is the mailbox polled for unseen messages.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// ProcessedFolder receives messages after they have been handled.
	ProcessedFolder string `mapstructure:"processed_folder" yaml:"processed_folder"`

	// StartTLS upgrades a plain connection instead of dialing implicit
	// TLS. Implicit TLS (port 993) is the default.
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`
}

// SMTPConfig holds settings for mail submission.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty and resolved from the OS keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// UseTLS enables STARTTLS on submission. Port 465 always uses
	// implicit TLS regardless of this flag; false on any other port
	// sends in the clear, which is only suitable for local relays.
	UseTLS bool `mapstructure:"use_tls" yaml:"use_tls"`

	// FromAddress is the envelope and header From for outbound mail.
	FromAddress string `mapstructure:"from_address" yaml:"from_address"`

	// SentFolder is the IMAP folder sent mail is appended to,
	// best-effort. Empty disables the append.
	SentFolder string `mapstructure:"sent_folder" yaml:"sent_folder"`
}

// LLMConfig holds settings for the draft generation service. Any
// OpenAI-compatible chat endpoint works, including local model servers.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// APIKey may be left empty and resolved from the OS keyring.
	// Local servers typically accept any value.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	Model string `mapstructure:"model" yaml:"model"`

	// ConfidenceMarker is the reply prefix the model uses to hand the
	// conversation to a human.
	ConfidenceMarker string `mapstructure:"confidence_marker" yaml:"confidence_marker"`

	// ConfidenceThreshold is the minimum self-reported confidence for an
	// automatic reply.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`

	// DefaultConfidence is assumed when the model omits its confidence
	// footer. 1.0 keeps marker-only escalation behavior.
	DefaultConfidence float64 `mapstructure:"default_confidence" yaml:"default_confidence"`

	// AutoSend controls whether confident drafts are sent without
	// operator review.
	AutoSend bool `mapstructure:"auto_send" yaml:"auto_send"`

	// ContextWindow bounds how many recent messages are included in the
	// prompt.
	ContextWindow int `mapstructure:"context_window" yaml:"context_window"`

	// TimeoutSec bounds each generation call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path"`

	// AttachmentsDir is where attachment payloads are written.
	AttachmentsDir string `mapstructure:"attachments_dir" yaml:"attachments_dir"`
}

// PollConfig holds inbox polling settings.
type PollConfig struct {
	// IntervalSec is how often the inbox is polled. Values below 30 are
	// raised to 30.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// MaxBackoffSec caps the wait after consecutive cycle failures.
	// Zero derives eight times the interval.
	MaxBackoffSec int `mapstructure:"max_backoff_sec" yaml:"max_backoff_sec"`
}

// LanguageConfig holds language detection settings.
type LanguageConfig struct {
	// MinChars is the shortest input worth detecting; shorter text is
	// treated as unknown.
	MinChars int `mapstructure:"min_chars" yaml:"min_chars"`

	// Default is the ISO 639-1 code used for prompting when detection
	// yields unknown.
	Default string `mapstructure:"default" yaml:"default"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// Pretty switches from JSON to human-readable console output.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// OpsConfig holds settings for the operational HTTP server.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// KeyringConfig holds settings for OS keyring secret resolution.
type KeyringConfig struct {
	// ServiceName namespaces entries in the OS keyring.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Version  string         `mapstructure:"version" yaml:"version"`
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	SMTP     SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Poll     PollConfig     `mapstructure:"poll" yaml:"poll"`
	Language LanguageConfig `mapstructure:"language" yaml:"language"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Ops      OpsConfig      `mapstructure:"ops" yaml:"ops"`
	Keyring  KeyringConfig  `mapstructure:"keyring" yaml:"keyring"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailpilot/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailpilot", "config.yaml")
}

// setDefaults registers every configuration default on the given viper
// instance. Missing keys in the file (or an absent file) resolve to these.
func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "dev")

	// Every key needs a default so environment overrides bind during
	// Unmarshal, including secrets that default to empty.
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("imap.processed_folder", "Processed")
	v.SetDefault("imap.starttls", false)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.use_tls", true)
	v.SetDefault("smtp.from_address", "")
	v.SetDefault("smtp.sent_folder", "Sent")

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.confidence_marker", "MANAGER")
	v.SetDefault("llm.confidence_threshold", 0.75)
	v.SetDefault("llm.default_confidence", 1.0)
	v.SetDefault("llm.auto_send", false)
	v.SetDefault("llm.context_window", 6)
	v.SetDefault("llm.timeout_sec", 30)

	v.SetDefault("store.path", "mailpilot.db")
	v.SetDefault("store.attachments_dir", "attachments")

	v.SetDefault("poll.interval_sec", 120)
	v.SetDefault("poll.max_backoff_sec", 0)

	v.SetDefault("language.min_chars", 20)
	v.SetDefault("language.default", "en")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.addr", ":8090")

	v.SetDefault("keyring.service_name", "mailpilot")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed MAILPILOT_ override file values (e.g.
// MAILPILOT_IMAP_HOST). If the file does not exist, defaults plus
// environment variables are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("MAILPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		ignorable := false
		if _, ok := err.(*os.PathError); ok {
			ignorable = true
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			ignorable = true
		}
		if !ignorable {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
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

	v.Set("version", cfg.Version)
	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("llm", cfg.LLM)
	v.Set("store", cfg.Store)
	v.Set("poll", cfg.Poll)
	v.Set("language", cfg.Language)
	v.Set("log", cfg.Log)
	v.Set("ops", cfg.Ops)
	v.Set("keyring", cfg.Keyring)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// NewLogger builds the root structured logger from the log settings.
// Output is single-line JSON unless pretty mode is enabled.
func (c *AppConfig) NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if c.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.With().
		Timestamp().
		Str("service", "mailpilot").
		Str("version", c.Version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
