package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for zipdaemon.
type Config struct {
	Root       string           `toml:"root"`
	BaseDir    string           `toml:"base_dir"`
	LogFile    string           `toml:"log_file"`
	Interval   Duration         `toml:"interval"`
	Scan       ScanConfig       `toml:"scan"`
	Database   DatabaseConfig   `toml:"database"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// ScanConfig controls how candidates are found and archived.
type ScanConfig struct {
	Trigger     string   `toml:"trigger"`
	Depth       int      `toml:"depth"`
	Marker      string   `toml:"marker"`
	Rename      bool     `toml:"rename"`
	AtomicWrite bool     `toml:"atomic_write"`
	Exclude     []string `toml:"exclude"`
	ExcludeFile string   `toml:"exclude_file,omitempty"` // one glob per line, '#' comments
}

// DatabaseConfig represents configuration for the ledger database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// VaultConfig represents configuration for the optional vault backend.
// An empty Type disables the vault.
type VaultConfig struct {
	Type string `toml:"type"` // "", "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing

	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt vault copies.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "" (disabled), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Duration is a time.Duration stored as a string such as "1s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a Config with every default filled in, keeping state
// files under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogFile:  filepath.Join(baseDir, "zipdaemon.log"),
		Interval: Duration{time.Second},
		Scan: ScanConfig{
			Trigger: "zu_zippen.txt",
			Depth:   2,
			Marker:  "_DELETE",
			Rename:  true,
			Exclude: []string{},
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: baseDir,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "zipdaemon.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "zipdaemon.key"),
		},
	}
}

// Validate checks the configuration for values a pass cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.Depth < 0 {
		errs = append(errs, fmt.Errorf("scan.depth must not be negative, got %d", c.Scan.Depth))
	}
	switch {
	case c.Scan.Trigger == "":
		errs = append(errs, errors.New("scan.trigger must be set"))
	case strings.ContainsRune(c.Scan.Trigger, '/') || strings.ContainsRune(c.Scan.Trigger, filepath.Separator):
		errs = append(errs, fmt.Errorf("scan.trigger must be a file name, got %q", c.Scan.Trigger))
	}
	if c.Scan.Rename && c.Scan.Marker == "" {
		errs = append(errs, errors.New("scan.marker must be set when scan.rename is enabled"))
	}
	if c.Interval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval.Duration))
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("sqlite database requires data_dir to be set"))
		}
	case "memory", "none", "":
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %q", c.Database.Type))
	}

	switch c.Vault.Type {
	case "", "memory":
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			errs = append(errs, errors.New("filesystem vault requires fs_vault_root to be set"))
		}
	case "s3":
		if c.Vault.S3Bucket == "" {
			errs = append(errs, errors.New("s3 vault requires s3_bucket to be set"))
		}
		if (c.Vault.S3AccessKeyID == "") != (c.Vault.S3SecretAccessKey == "") {
			errs = append(errs, errors.New("s3_access_key_id and s3_secret_access_key must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vault type: %q", c.Vault.Type))
	}

	switch c.Encryption.Type {
	case "", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			errs = append(errs, errors.New("age encryption requires public_key_path and private_key_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown encryption type: %q", c.Encryption.Type))
	}
	if c.Encryption.Type != "" && c.Vault.Type == "" {
		errs = append(errs, errors.New("encryption requires a vault"))
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader on top of the defaults in
// base. Keys missing from the input keep their default values.
func (m *Manager) Read(r io.Reader, base *Config) (*Config, error) {
	cfg := *base
	cfg.Scan.Exclude = append([]string(nil), base.Scan.Exclude...)
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

// ReadFromFile reads a Config from the specified file path, filling unset
// keys from NewConfig(baseDir).
func ReadFromFile(path, baseDir string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, NewConfig(baseDir))
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault reads the config file at path, or returns the defaults when
// no file exists there.
func LoadOrDefault(path, baseDir string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewConfig(baseDir), nil
	}
	return ReadFromFile(path, baseDir)
}

// writeToFile writes a Config to the specified file path.
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
