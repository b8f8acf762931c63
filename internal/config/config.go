package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxUploadSize is the largest restore upload accepted (100 MiB).
	DefaultMaxUploadSize int64 = 100 << 20
	// DefaultMaxExtractedSize caps the bytes a restore may extract (1 GiB).
	DefaultMaxExtractedSize int64 = 1 << 30
	// DefaultStoreFileName is the name of the SQLite file inside the data dir.
	DefaultStoreFileName = "boxes.db"
	// DefaultServerAddress is where `boxes serve` listens.
	DefaultServerAddress = "127.0.0.1:8080"
)

// Config represents the main configuration for boxes.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // debug, info (default), warn, error
	Database   DatabaseConfig   `toml:"database"`
	Uploads    UploadsConfig    `toml:"uploads"`
	Staging    StagingConfig    `toml:"staging"`
	Backup     BackupConfig     `toml:"backup"`
	Server     ServerConfig     `toml:"server"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DatabaseConfig represents configuration for the inventory store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type           string `toml:"type"`                // "sqlite" or "memory"
	DataDir        string `toml:"data_dir,omitempty"`  // only used for type=sqlite
	FileName       string `toml:"file_name,omitempty"` // defaults to boxes.db
	SeedSampleData bool   `toml:"seed_sample_data"`    // seed only when the store file is created
}

// UploadsConfig locates the attachment tree holding receipt files.
type UploadsConfig struct {
	Dir    string   `toml:"dir"`
	Ignore []string `toml:"ignore,omitempty"`
}

// StagingConfig represents configuration for restore and snapshot staging.
type StagingConfig struct {
	Dir     string `toml:"dir,omitempty"` // defaults to <data_dir>/temp
	MaxSize int64  `toml:"max_size"`      // per-directory budget in bytes
}

// BackupConfig holds backup and restore policy.
type BackupConfig struct {
	MaxUploadSize    int64 `toml:"max_upload_size"`
	MaxExtractedSize int64 `toml:"max_extracted_size"`
	StrictVersion    bool  `toml:"strict_version"`
	Rollback         *bool `toml:"rollback,omitempty"` // nil means enabled
}

// RollbackEnabled reports whether a failed restore should put the previous
// store back. Defaults to true.
func (c BackupConfig) RollbackEnabled() bool {
	return c.Rollback == nil || *c.Rollback
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address        string   `toml:"address"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
}

// VaultConfig represents configuration for an off-site archive vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // for S3-compatible services
	S3AccessKey string `toml:"s3_access_key,omitempty"` // empty uses the default credential chain
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig controls encryption of archives pushed to a vault.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config rooted at baseDir with default paths and limits.
func NewConfig(baseDir string) *Config {
	dataDir := filepath.Join(baseDir, "data")
	rollback := true
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:     "sqlite",
			DataDir:  dataDir,
			FileName: DefaultStoreFileName,
		},
		Uploads: UploadsConfig{Dir: filepath.Join(baseDir, "uploads")},
		Staging: StagingConfig{MaxSize: DefaultMaxExtractedSize},
		Backup: BackupConfig{
			MaxUploadSize:    DefaultMaxUploadSize,
			MaxExtractedSize: DefaultMaxExtractedSize,
			Rollback:         &rollback,
		},
		Server: ServerConfig{Address: DefaultServerAddress},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "boxes.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "boxes.key"),
		},
	}
}

// StorePath returns the path of the primary store file.
func (c *Config) StorePath() string {
	name := c.Database.FileName
	if name == "" {
		name = DefaultStoreFileName
	}
	return filepath.Join(c.Database.DataDir, name)
}

// Vault returns the vault config with the given name. An empty name selects
// the first configured vault.
func (c *Config) Vault(name string) (VaultConfig, error) {
	if len(c.Vaults) == 0 {
		return VaultConfig{}, fmt.Errorf("no vaults configured")
	}
	if name == "" {
		return c.Vaults[0], nil
	}
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, nil
		}
	}
	return VaultConfig{}, fmt.Errorf("no vault named %q", name)
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

func writeToFile(path string, cfg *Config) error {
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
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
