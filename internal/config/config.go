package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for okm.
type Config struct {
	InstanceID string           `toml:"instance_id" validate:"required"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Repository RepositoryConfig `toml:"repository"`
	Vaults     []VaultConfig    `toml:"vaults" validate:"dive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Security   SecurityConfig   `toml:"security"`
	Upload     UploadConfig     `toml:"upload"`
	Import     ImportConfig     `toml:"import"`
}

// RepositoryConfig selects the repository backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RepositoryConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory badger"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_unless=Type memory"`
}

// VaultConfig represents configuration for a content vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"oneof=memory filesystem s3"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty" validate:"required_if=Type filesystem"`
}

// EncryptionConfig holds paths to the age key pair used for content at rest.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=none age test"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SecurityConfig describes the acting user and the admin role.
type SecurityConfig struct {
	AdminRole    string   `toml:"admin_role"`
	DefaultUser  string   `toml:"default_user" validate:"required"`
	DefaultRoles []string `toml:"default_roles"`
}

// UploadConfig limits the content accepted for new document versions.
type UploadConfig struct {
	MaxFileSize     int64    `toml:"max_file_size" validate:"min=0"` // bytes, 0 = unlimited
	UserQuota       int64    `toml:"user_quota" validate:"min=0"`    // bytes per user, 0 = unlimited
	DeniedMimeTypes []string `toml:"denied_mime_types"`
	Antivirus       bool     `toml:"antivirus"`
}

// ImportConfig holds settings for the filesystem side of import and export.
type ImportConfig struct {
	MetadataExt string   `toml:"metadata_ext"`
	Ignore      []string `toml:"ignore"`
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Repository: RepositoryConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "okm.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "okm.key"),
		},
		Security: SecurityConfig{
			AdminRole:    "ROLE_ADMIN",
			DefaultUser:  "okmAdmin",
			DefaultRoles: []string{"ROLE_ADMIN", "ROLE_USER"},
		},
		Import: ImportConfig{
			MetadataExt: ".json",
		},
	}
}

var validate = validator.New()

// Validate checks the tagged union fields and required settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", verrs)
		}
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
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
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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
