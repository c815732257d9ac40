// Package config resolves taskherd's runtime configuration from an optional
// config.yaml in the base directory, environment variables, and built-in
// defaults, in that order of increasing precedence for env over file.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskherd/taskherd/internal/types"
)

// Environment variables consumed by the engine.
const (
	EnvToken      = "GITHUB_TOKEN"
	EnvRepository = "GITHUB_REPOSITORY" // "owner/repo"
	EnvOwner      = "GITHUB_OWNER"
	EnvRepo       = "GITHUB_REPO"
	EnvBaseDir    = "TASKHERD_DIR"
)

// ConfigFileName is the optional YAML config under the base directory.
const ConfigFileName = "config.yaml"

// Subdirectories of the base directory.
const (
	LocksDir    = "locks"
	WorkflowDir = "workflow"
	BatchesDir  = "batches"
	LogsDir     = "logs"
)

// DefaultLockStaleTimeout is how old a claim may grow before any other
// session is allowed to displace it.
const DefaultLockStaleTimeout = 30 * time.Minute

// Config is the resolved engine configuration.
type Config struct {
	Token   string
	Owner   string // default owner, may be empty
	Repo    string // default repo, may be empty
	BaseDir string

	LockStaleTimeout time.Duration
	RetentionDays    int // general audit retention floor
	LockRetainDays   int // lock-event retention target

	DefaultPriority types.Priority // applied by sync_backlog_labels update mode
	DefaultType     string

	SocketPath string // optional unix socket for serve
}

// Load builds a Config. baseDir overrides TASKHERD_DIR; empty means resolve
// from the environment with ~/.taskherd as the fallback.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		baseDir = os.Getenv(EnvBaseDir)
	}
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".taskherd")
	}

	v := viper.New()
	v.SetDefault("lock_stale_timeout", DefaultLockStaleTimeout.String())
	v.SetDefault("retention_days", 30)
	v.SetDefault("lock_retention_days", 90)
	v.SetDefault("default_priority", string(types.PriorityMedium))
	v.SetDefault("default_type", "feature")
	v.SetDefault("socket", "")

	v.SetConfigFile(filepath.Join(baseDir, ConfigFileName))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	staleStr := v.GetString("lock_stale_timeout")
	stale, err := time.ParseDuration(staleStr)
	if err != nil {
		return nil, fmt.Errorf("invalid lock_stale_timeout %q: %w", staleStr, err)
	}

	cfg := &Config{
		Token:            os.Getenv(EnvToken),
		BaseDir:          baseDir,
		LockStaleTimeout: stale,
		RetentionDays:    v.GetInt("retention_days"),
		LockRetainDays:   v.GetInt("lock_retention_days"),
		DefaultPriority:  types.Priority(v.GetString("default_priority")),
		DefaultType:      v.GetString("default_type"),
		SocketPath:       v.GetString("socket"),
	}

	if repo := os.Getenv(EnvRepository); repo != "" {
		owner, name, ok := SplitRepo(repo)
		if !ok {
			return nil, fmt.Errorf("%s must be owner/repo, got %q", EnvRepository, repo)
		}
		cfg.Owner, cfg.Repo = owner, name
	} else {
		cfg.Owner = os.Getenv(EnvOwner)
		cfg.Repo = os.Getenv(EnvRepo)
	}

	return cfg, nil
}

// SplitRepo splits "owner/repo" into its parts.
func SplitRepo(full string) (owner, repo string, ok bool) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DefaultRepo returns the configured "owner/repo" default, or "" when the
// environment supplies none.
func (c *Config) DefaultRepo() string {
	if c.Owner == "" || c.Repo == "" {
		return ""
	}
	return c.Owner + "/" + c.Repo
}

// ResolveToken picks the credential: explicit parameter, then GITHUB_TOKEN,
// then the gh CLI helper. Fails with guidance when none is available.
func (c *Config) ResolveToken(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if c.Token != "" {
		return c.Token, nil
	}
	out, err := exec.Command("gh", "auth", "token").Output()
	if err == nil {
		if tok := strings.TrimSpace(string(out)); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("no GitHub credential: set %s or run `gh auth login`", EnvToken)
}

// EnsureDirs creates the base directory and its four subdirectories.
func (c *Config) EnsureDirs() error {
	for _, sub := range []string{LocksDir, WorkflowDir, BatchesDir, LogsDir} {
		dir := filepath.Join(c.BaseDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Dir returns the absolute path of one of the four subdirectories.
func (c *Config) Dir(sub string) string {
	return filepath.Join(c.BaseDir, sub)
}
