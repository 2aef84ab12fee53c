package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions (tokens live in this file).

// OAuthConfig holds the OAuth2 client used to talk to the event directory.
// Token refresh is handled by the oauth2 transport; the refreshed token is
// not written back here, so RefreshToken should be a long-lived grant.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	TokenURL     string `yaml:"token_url" json:"token_url"`

	AccessToken  string `yaml:"access_token,omitempty" json:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
}

// DirectoryConfig describes the remote event directory API.
type DirectoryConfig struct {
	// BaseURL is the API root, e.g. "https://eventcally.example.com".
	// The client appends "/api/v1" itself.
	BaseURL string `yaml:"base_url" json:"base_url"`

	OAuth OAuthConfig `yaml:"oauth" json:"oauth"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status/preview API.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the path to the SQLite database file.
	Database string `yaml:"database" json:"database"`

	// CacheDir is the base directory for the ICS fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SyncCron is a cron-style schedule for full sync passes over all
	// configurations (e.g. "0 */8 * * *").
	SyncCron string `yaml:"sync" json:"sync"`

	// RetentionDays is how many days of runs to keep; older runs are
	// deleted by a daily cleanup job. Zero disables cleanup.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// Directory is the remote event directory this instance mirrors into.
	Directory DirectoryConfig `yaml:"directory" json:"directory"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Database:      "/var/lib/icalsync/icalsync.db",
		CacheDir:      "/var/lib/icalsync/ics-cache",
		SyncCron:      "0 */8 * * *",
		RetentionDays: 3,
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Database == "" {
		c.Database = "/var/lib/icalsync/icalsync.db"
	}
	if c.CacheDir == "" {
		c.CacheDir = "/var/lib/icalsync/ics-cache"
	}
	if c.SyncCron == "" {
		c.SyncCron = "0 */8 * * *"
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".icalsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
