package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for the engine's tuning parameters. Invalid configured values
// fail closed with a ValidationError rather than being clamped.
const (
	DefaultDebounceWindow        = 1500 * time.Millisecond
	DefaultRetentionCount        = 5
	DefaultCompressionLevel      = 3
	DefaultPollFallbackInterval  = 2 * time.Second
	DefaultMaxConcurrentCaptures = 2
)

// Duration wraps time.Duration so TOML files can use strings like "1500ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the main configuration for savevault.
type Config struct {
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	DebounceWindow        Duration `toml:"debounce_window"`
	RetentionCount        int      `toml:"retention_count"`
	CompressionLevel      int      `toml:"compression_level"`
	PollFallbackInterval  Duration `toml:"poll_fallback_interval"`
	MaxConcurrentCaptures int      `toml:"max_concurrent_captures"`

	Database DatabaseConfig `toml:"database"`
	Blobs    BlobConfig     `toml:"blobs"`

	Slots []SlotConfig `toml:"slot"`
}

// DatabaseConfig configures the metadata database. Tagged union: Type
// selects which other fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// BlobConfig configures compressed blob storage. Tagged union on Type.
type BlobConfig struct {
	Type string `toml:"type"`           // "filesystem" or "memory"
	Root string `toml:"root,omitempty"` // only used for type=filesystem
}

// SlotConfig registers one save root at daemon startup.
type SlotConfig struct {
	Path     string `toml:"path"`
	Emulator string `toml:"emulator"`
}

// ValidationError reports an invalid configuration value. Configuration
// errors are fatal at startup only; nothing downstream ever sees them.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// NewConfig creates a Config with documented defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:               baseDir,
		LogDir:                filepath.Join(baseDir, "log"),
		DebounceWindow:        Duration(DefaultDebounceWindow),
		RetentionCount:        DefaultRetentionCount,
		CompressionLevel:      DefaultCompressionLevel,
		PollFallbackInterval:  Duration(DefaultPollFallbackInterval),
		MaxConcurrentCaptures: DefaultMaxConcurrentCaptures,
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Blobs: BlobConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "blobs"),
		},
	}
}

// Validate checks every tuning parameter and fails closed on the first
// invalid one.
func (c *Config) Validate() error {
	if c.DebounceWindow <= 0 {
		return &ValidationError{"debounce_window", "must be a positive duration"}
	}
	if c.RetentionCount < 1 {
		return &ValidationError{"retention_count", "must be at least 1"}
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
		return &ValidationError{"compression_level", "must be between 1 and 22"}
	}
	if c.PollFallbackInterval <= 0 {
		return &ValidationError{"poll_fallback_interval", "must be a positive duration"}
	}
	if c.MaxConcurrentCaptures < 1 {
		return &ValidationError{"max_concurrent_captures", "must be at least 1"}
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return &ValidationError{"database.data_dir", "required for type=sqlite"}
		}
	case "memory":
	default:
		return &ValidationError{"database.type", fmt.Sprintf("unknown type %q", c.Database.Type)}
	}

	switch c.Blobs.Type {
	case "filesystem":
		if c.Blobs.Root == "" {
			return &ValidationError{"blobs.root", "required for type=filesystem"}
		}
	case "memory":
	default:
		return &ValidationError{"blobs.type", fmt.Sprintf("unknown type %q", c.Blobs.Type)}
	}

	for i, s := range c.Slots {
		if s.Path == "" {
			return &ValidationError{fmt.Sprintf("slot[%d].path", i), "must not be empty"}
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes and validates a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

// ReadFromFile reads and validates a Config from the specified file path.
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

// Init initializes a new config file at the specified path with the provided
// Config. Fails if a config already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
