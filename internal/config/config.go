package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultStorageBackend    = "local"
	DefaultDatalakePath      = "datalake"
	DefaultEvidenceStorePath = "evidence_store"
	DefaultLogLevel          = "info"
	DefaultDBFileName        = ".evlake.db"

	configFileName = ".evlake.toml"

	configDirEnvKey          = "EVLAKE_CONFIG_DIR"
	trustProjectConfigEnvKey = "EVLAKE_TRUST_PROJECT_CONFIG"
)

// RemoteVolumeConfig holds the coordinates of the remote volume backend.
// The access token is never read from config files; it comes from the
// EVLAKE_VOLUME_TOKEN environment variable.
type RemoteVolumeConfig struct {
	Catalog    string `toml:"catalog"`
	Schema     string `toml:"schema"`
	Volume     string `toml:"volume"`
	Endpoint   string `toml:"endpoint"`
	MetaDBPath string `toml:"meta_db_path"`
}

// Config defines runtime configuration for evlake.
type Config struct {
	DBPath            string             `toml:"db_path"`
	StorageBackend    string             `toml:"storage_backend"`
	BasePath          string             `toml:"base_path"`
	DatalakePath      string             `toml:"datalake_path"`
	EvidenceStorePath string             `toml:"evidence_store_path"`
	LogLevel          string             `toml:"log_level"`
	RemoteVolume      RemoteVolumeConfig `toml:"remote_volume"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DBPath:            "",
		StorageBackend:    DefaultStorageBackend,
		BasePath:          "",
		DatalakePath:      DefaultDatalakePath,
		EvidenceStorePath: DefaultEvidenceStorePath,
		LogLevel:          DefaultLogLevel,
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"db_path",
	"storage_backend",
	"base_path",
	"datalake_path",
	"evidence_store_path",
	"log_level",
	"remote_volume.catalog",
	"remote_volume.schema",
	"remote_volume.volume",
	"remote_volume.endpoint",
	"remote_volume.meta_db_path",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "storage_backend":
		return c.StorageBackend, nil
	case "base_path":
		return c.BasePath, nil
	case "datalake_path":
		return c.DatalakePath, nil
	case "evidence_store_path":
		return c.EvidenceStorePath, nil
	case "log_level":
		return c.LogLevel, nil
	case "remote_volume.catalog":
		return c.RemoteVolume.Catalog, nil
	case "remote_volume.schema":
		return c.RemoteVolume.Schema, nil
	case "remote_volume.volume":
		return c.RemoteVolume.Volume, nil
	case "remote_volume.endpoint":
		return c.RemoteVolume.Endpoint, nil
	case "remote_volume.meta_db_path":
		return c.RemoteVolume.MetaDBPath, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := setNestedKey(data, strings.Split(key, "."), strings.TrimSpace(value)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
// Project config in the working directory is only honored when
// EVLAKE_TRUST_PROJECT_CONFIG is set.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}

	if dbPath := os.Getenv("EVLAKE_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if backend := os.Getenv("EVLAKE_STORAGE_BACKEND"); backend != "" {
		cfg.StorageBackend = backend
	}
	if path := os.Getenv("EVLAKE_DATALAKE_PATH"); path != "" {
		cfg.DatalakePath = path
	}
	if path := os.Getenv("EVLAKE_EVIDENCE_STORE"); path != "" {
		cfg.EvidenceStorePath = path
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = DefaultStorageBackend
	}
	if strings.TrimSpace(c.DatalakePath) == "" {
		c.DatalakePath = DefaultDatalakePath
	}
	if strings.TrimSpace(c.EvidenceStorePath) == "" {
		c.EvidenceStorePath = DefaultEvidenceStorePath
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
}
