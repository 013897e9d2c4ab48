// Package config holds operator configuration for a beastmode process:
// where state lives, which repository workflows are dispatched to, and how
// the generative endpoints are reached.
//
// Values come from BEASTMODE_* environment variables, an optional
// beastmode.yaml (current directory or ~/.beastmode), and defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the BEASTMODE_ prefix
// (e.g. "github_token" → BEASTMODE_GITHUB_TOKEN) and to a YAML field in
// beastmode.yaml.
const (
	KeyDataDir        = "data_dir"
	KeyDefinitionsDir = "definitions_dir"

	KeyGitHubOwner      = "github_owner"
	KeyGitHubRepo       = "github_repo"
	KeyGitHubRef        = "github_ref"
	KeyGitHubToken      = "github_token"
	KeyGitHubRatePerSec = "github_rate_per_sec"
	KeyGitHubAPIURL     = "github_api_url"

	KeyLLMLocalURL      = "llm_local_url"
	KeyLLMLocalModel    = "llm_local_model"
	KeyLLMLocalTimeout  = "llm_local_timeout"
	KeyLLMRemoteURL     = "llm_remote_url"
	KeyLLMRemoteModel   = "llm_remote_model"
	KeyLLMRemoteAPIKey  = "llm_remote_api_key"
	KeyLLMRemoteTimeout = "llm_remote_timeout"

	KeyTurnTimeout            = "turn_timeout"
	KeyDispatchMaxAttempts    = "dispatch_max_attempts"
	KeyDispatchInitialBackoff = "dispatch_initial_backoff"
	KeyHistorySize            = "history_size"
	KeySessionTTL             = "session_ttl"
	KeyMetricsAddr            = "metrics_addr"
)

// Defaults.
const (
	DefaultDefinitionsDir         = "definitions"
	DefaultGitHubRef              = "main"
	DefaultGitHubRatePerSec       = 1.0
	DefaultGitHubAPIURL           = "https://api.github.com"
	DefaultLLMLocalURL            = "http://127.0.0.1:8080/v1"
	DefaultLLMLocalModel          = "local"
	DefaultLLMLocalTimeout        = 10 * time.Second
	DefaultLLMRemoteURL           = "https://api.openai.com/v1"
	DefaultLLMRemoteModel         = "gpt-4o-mini"
	DefaultLLMRemoteTimeout       = 30 * time.Second
	DefaultTurnTimeout            = 60 * time.Second
	DefaultDispatchMaxAttempts    = 3
	DefaultDispatchInitialBackoff = 500 * time.Millisecond
	DefaultHistorySize            = 20
	DefaultSessionTTL             = 30 * time.Minute
)

// FileName is the config file name without extension.
const FileName = "beastmode"

// Config holds resolved configuration.
type Config struct {
	DataDir        string // SQLite database and other state (~/.beastmode)
	DefinitionsDir string // rule, flow and workflow sources

	GitHubOwner      string
	GitHubRepo       string
	GitHubRef        string
	GitHubToken      string
	GitHubRatePerSec float64
	GitHubAPIURL     string

	LLMLocalURL      string // llama.cpp server, OpenAI-compatible
	LLMLocalModel    string
	LLMLocalTimeout  time.Duration
	LLMRemoteURL     string
	LLMRemoteModel   string
	LLMRemoteAPIKey  string
	LLMRemoteTimeout time.Duration

	TurnTimeout            time.Duration
	DispatchMaxAttempts    int
	DispatchInitialBackoff time.Duration
	HistorySize            int
	SessionTTL             time.Duration

	// MetricsAddr serves /metrics when set (e.g. ":9090").
	MetricsAddr string
}

// NewViper returns a viper instance with the env prefix, config search
// paths and defaults installed.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BEASTMODE")
	v.AutomaticEnv()

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".beastmode"))
	}

	v.SetDefault(KeyDefinitionsDir, DefaultDefinitionsDir)
	v.SetDefault(KeyGitHubRef, DefaultGitHubRef)
	v.SetDefault(KeyGitHubRatePerSec, DefaultGitHubRatePerSec)
	v.SetDefault(KeyGitHubAPIURL, DefaultGitHubAPIURL)
	v.SetDefault(KeyLLMLocalURL, DefaultLLMLocalURL)
	v.SetDefault(KeyLLMLocalModel, DefaultLLMLocalModel)
	v.SetDefault(KeyLLMLocalTimeout, DefaultLLMLocalTimeout)
	v.SetDefault(KeyLLMRemoteURL, DefaultLLMRemoteURL)
	v.SetDefault(KeyLLMRemoteModel, DefaultLLMRemoteModel)
	v.SetDefault(KeyLLMRemoteTimeout, DefaultLLMRemoteTimeout)
	v.SetDefault(KeyTurnTimeout, DefaultTurnTimeout)
	v.SetDefault(KeyDispatchMaxAttempts, DefaultDispatchMaxAttempts)
	v.SetDefault(KeyDispatchInitialBackoff, DefaultDispatchInitialBackoff)
	v.SetDefault(KeyHistorySize, DefaultHistorySize)
	v.SetDefault(KeySessionTTL, DefaultSessionTTL)
	return v
}

// Load resolves configuration from v. file names an explicit config file;
// when empty the search paths are tried and a missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:        resolveDataDir(v),
		DefinitionsDir: v.GetString(KeyDefinitionsDir),

		GitHubOwner:      v.GetString(KeyGitHubOwner),
		GitHubRepo:       v.GetString(KeyGitHubRepo),
		GitHubRef:        v.GetString(KeyGitHubRef),
		GitHubToken:      v.GetString(KeyGitHubToken),
		GitHubRatePerSec: v.GetFloat64(KeyGitHubRatePerSec),
		GitHubAPIURL:     v.GetString(KeyGitHubAPIURL),

		LLMLocalURL:      v.GetString(KeyLLMLocalURL),
		LLMLocalModel:    v.GetString(KeyLLMLocalModel),
		LLMLocalTimeout:  v.GetDuration(KeyLLMLocalTimeout),
		LLMRemoteURL:     v.GetString(KeyLLMRemoteURL),
		LLMRemoteModel:   v.GetString(KeyLLMRemoteModel),
		LLMRemoteAPIKey:  v.GetString(KeyLLMRemoteAPIKey),
		LLMRemoteTimeout: v.GetDuration(KeyLLMRemoteTimeout),

		TurnTimeout:            v.GetDuration(KeyTurnTimeout),
		DispatchMaxAttempts:    v.GetInt(KeyDispatchMaxAttempts),
		DispatchInitialBackoff: v.GetDuration(KeyDispatchInitialBackoff),
		HistorySize:            v.GetInt(KeyHistorySize),
		SessionTTL:             v.GetDuration(KeySessionTTL),
		MetricsAddr:            v.GetString(KeyMetricsAddr),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir(v *viper.Viper) string {
	if dir := v.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beastmode"
	}
	return filepath.Join(home, ".beastmode")
}

func (c *Config) validate() error {
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", KeyDispatchMaxAttempts)
	}
	if c.DispatchInitialBackoff < 0 {
		return fmt.Errorf("%s must not be negative", KeyDispatchInitialBackoff)
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("%s must not be negative", KeyTurnTimeout)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%s must not be negative", KeyHistorySize)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeySessionTTL)
	}
	if c.GitHubRatePerSec < 0 {
		return fmt.Errorf("%s must not be negative", KeyGitHubRatePerSec)
	}
	if (c.GitHubOwner == "") != (c.GitHubRepo == "") {
		return fmt.Errorf("%s and %s must be set together", KeyGitHubOwner, KeyGitHubRepo)
	}
	return nil
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "beastmode.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// GitHubEnabled reports whether a target repository is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubOwner != "" && c.GitHubRepo != ""
}

// RemoteLLMEnabled reports whether the hosted endpoint may be used.
func (c *Config) RemoteLLMEnabled() bool {
	return c.LLMRemoteAPIKey != ""
}
