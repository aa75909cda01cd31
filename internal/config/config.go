// Package config loads sigchain settings from <config dir>/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRetentionDays is how long debug logs are kept unless configured.
const DefaultRetentionDays = 14

// GlobalConfig holds sigchain settings.
type GlobalConfig struct {
	// Database is the SQLite block store. Relative paths resolve against the config dir.
	Database string `yaml:"database"`
	// Signer selects the key used by append.
	Signer SignerConfig `yaml:"signer"`
	// TrustedKeys are public key PEM files forming the default trust set for verify.
	TrustedKeys []string    `yaml:"trusted_keys"`
	Debug       DebugConfig `yaml:"debug"`

	dir string
}

// SignerConfig names the signing key, either as a PEM file or a keystore entry.
type SignerConfig struct {
	KeyPath     string `yaml:"key_path"`
	KeyringName string `yaml:"keyring_name"`
}

// DebugConfig holds debug log settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the defaults for a config rooted at dir.
func DefaultGlobalConfig(dir string) *GlobalConfig {
	return &GlobalConfig{
		Database: filepath.Join(dir, "chain.db"),
		Debug: DebugConfig{
			RetentionDays: DefaultRetentionDays,
		},
		dir: dir,
	}
}

// GlobalConfigDir returns $SIGCHAIN_DIR, or ~/.sigchain.
func GlobalConfigDir() string {
	if dir := os.Getenv("SIGCHAIN_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sigchain")
	}
	return filepath.Join(homeDir, ".sigchain")
}

// LoadGlobal loads the config from GlobalConfigDir.
func LoadGlobal() (*GlobalConfig, error) {
	return Load(GlobalConfigDir())
}

// Load reads dir/config.yaml if present and applies environment overrides.
// A missing file yields the defaults; a malformed one is an error.
func Load(dir string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig(dir)

	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("SIGCHAIN_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("SIGCHAIN_KEY"); v != "" {
		cfg.Signer.KeyPath = v
	}
	if v := os.Getenv("SIGCHAIN_TRUSTED_KEYS"); v != "" {
		cfg.TrustedKeys = splitList(v)
	}
	if v := os.Getenv("SIGCHAIN_LOG_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Debug.RetentionDays = days
		}
	}

	cfg.Database = cfg.resolve(cfg.Database)
	cfg.Signer.KeyPath = cfg.resolve(cfg.Signer.KeyPath)
	for i, p := range cfg.TrustedKeys {
		cfg.TrustedKeys[i] = cfg.resolve(p)
	}
	return cfg, nil
}

// Dir returns the directory the config was loaded from.
func (c *GlobalConfig) Dir() string {
	return c.dir
}

// KeysDir is where the keystore keeps file-backed signer keys.
func (c *GlobalConfig) KeysDir() string {
	return filepath.Join(c.dir, "keys")
}

// DebugDir is where debug logs are written.
func (c *GlobalConfig) DebugDir() string {
	return filepath.Join(c.dir, "debug")
}

func (c *GlobalConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return filepath.Join(c.dir, p)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
