package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfig overrides the config file location.
	EnvConfig = "SHEP_CONFIG"
	// EnvHome overrides the shep data directory (default ~/.shep).
	EnvHome = "SHEP_HOME"
)

// Config holds the runtime configuration loaded from config.yaml.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Agent   AgentConfig   `yaml:"agent"`
	UI      UIConfig      `yaml:"ui"`
	Metrics MetricsConfig `yaml:"metrics"`
	Jokes   JokesConfig   `yaml:"jokes"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// StorageConfig controls persistence. CheckpointPath may be ":memory:".
type StorageConfig struct {
	Path           string `yaml:"path"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AgentConfig controls how we invoke the coding agent CLI.
type AgentConfig struct {
	Binary           string   `yaml:"binary"`
	Sandbox          string   `yaml:"sandbox"`
	Approval         string   `yaml:"approval"`
	Profile          string   `yaml:"profile"`
	WorkingDir       string   `yaml:"working_dir"`
	ExtraArgs        []string `yaml:"extra_args"`
	SkipGitRepoCheck bool     `yaml:"skip_git_repo_check"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	Retries          *int     `yaml:"retries"`
}

// RetryCount is how many times a failed agent call is repeated. An unset
// value means 2; an explicit 0 disables retries.
func (a AgentConfig) RetryCount() int {
	if a.Retries == nil {
		return 2
	}
	return max(*a.Retries, 0)
}

// UIConfig controls the optional local web UI server.
type UIConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// JokesConfig points at an optional YAML list replacing the built-in jokes.
type JokesConfig struct {
	CorpusFile string `yaml:"corpus_file"`
}

// NotifyConfig groups notification channels.
type NotifyConfig struct {
	Nostr NostrConfig `yaml:"nostr"`
}

// NostrConfig sends encrypted DMs about run progress.
type NostrConfig struct {
	Enable     bool     `yaml:"enable"`
	PrivateKey string   `yaml:"private_key"`
	Relays     []string `yaml:"relays"`
	Recipients []string `yaml:"recipients"`
}

// HomeDir returns the shep data directory.
func HomeDir() string {
	if v := strings.TrimSpace(os.Getenv(EnvHome)); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shep"
	}
	return filepath.Join(home, ".shep")
}

// DefaultPath resolves the config file location: $SHEP_CONFIG, then ~/.shep/config.yaml.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv(EnvConfig)); v != "" {
		return v
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load reads and validates configuration from the provided path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Default(), nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(HomeDir())
	return &cfg
}

// NotifyPubKey derives the public key notifications are signed with.
func (c *Config) NotifyPubKey() (string, error) {
	if c.Notify.Nostr.PrivateKey == "" {
		return "", errors.New("notify.nostr.private_key is required")
	}
	pub, err := nostr.GetPublicKey(c.Notify.Nostr.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("derive pubkey: %w", err)
	}
	return pub, nil
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Storage.CheckpointPath == "" {
		return errors.New("storage.checkpoint_path is required")
	}
	if c.Agent.Binary == "" {
		return errors.New("agent.binary is required (e.g., 'codex')")
	}
	if c.Agent.TimeoutSeconds < 0 {
		return errors.New("agent.timeout_seconds must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text|json", c.Logging.Format)
	}
	if n := c.Notify.Nostr; n.Enable {
		if len(n.Relays) == 0 {
			return errors.New("notify.nostr.relays must contain at least one relay")
		}
		if len(n.Recipients) == 0 {
			return errors.New("notify.nostr.recipients must contain at least one pubkey")
		}
		if _, err := c.NotifyPubKey(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults(baseDir string) {
	home := HomeDir()
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(home, "data", "state.db")
	} else {
		c.Storage.Path = resolve(baseDir, c.Storage.Path)
	}
	if c.Storage.CheckpointPath == "" {
		c.Storage.CheckpointPath = filepath.Join(home, "data", "checkpoints.db")
	} else if c.Storage.CheckpointPath != ":memory:" {
		c.Storage.CheckpointPath = resolve(baseDir, c.Storage.CheckpointPath)
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = "codex"
	}
	if c.Agent.Sandbox == "" {
		c.Agent.Sandbox = "workspace-write"
	}
	if c.Agent.Approval == "" {
		c.Agent.Approval = "never"
	}
	if c.Agent.WorkingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Agent.WorkingDir = wd
		} else {
			c.Agent.WorkingDir = "."
		}
	} else {
		c.Agent.WorkingDir = expandPath(c.Agent.WorkingDir)
	}
	if c.Agent.TimeoutSeconds == 0 {
		c.Agent.TimeoutSeconds = 900 // 15 minutes
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.UI.Addr == "" {
		c.UI.Addr = "127.0.0.1:3030"
	}
	if c.Jokes.CorpusFile != "" {
		c.Jokes.CorpusFile = resolve(baseDir, c.Jokes.CorpusFile)
	}
	// Ensure keys are lowercase to avoid mismatches.
	for i, pk := range c.Notify.Nostr.Recipients {
		c.Notify.Nostr.Recipients[i] = strings.ToLower(pk)
	}
}

func resolve(baseDir, p string) string {
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
