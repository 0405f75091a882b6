package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for qp.
type Config struct {
	LogDir      string            `toml:"log_dir"`
	Persistence PersistenceConfig `toml:"persistence"`
	Archive     ArchiveConfig     `toml:"archive"`
	KVStore     KVStoreConfig     `toml:"kvstore"`
}

// PersistenceConfig holds the TTL classes and the anonymous account id.
type PersistenceConfig struct {
	TTLDays          int `toml:"ttl_days"`                // registered users; defaults to 100
	AnonymousTTLDays int `toml:"anonymous_user_ttl_days"` // anonymous users; defaults to 7
	AnonymousUserID  int `toml:"anonymous_user_id"`
}

// ArchiveConfig holds the cold-tier settings.
type ArchiveConfig struct {
	Dir       string `toml:"dir"`        // directory holding the archive files
	RowsLimit int    `toml:"rows_limit"` // row cap per archive file; defaults to 1000000
}

// KVStoreConfig selects the hot-tier backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type KVStoreConfig struct {
	Type string `toml:"type"` // "memory" or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr string `toml:"redis_addr,omitempty"`
	RedisDB   int    `toml:"redis_db,omitempty"`
}

// NewConfig creates a Config with default values rooted under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir: filepath.Join(baseDir, "log"),
		Persistence: PersistenceConfig{
			TTLDays:          100,
			AnonymousTTLDays: 7,
		},
		Archive: ArchiveConfig{
			Dir:       filepath.Join(baseDir, "archives"),
			RowsLimit: 1000000,
		},
		KVStore: KVStoreConfig{
			Type: "memory",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
