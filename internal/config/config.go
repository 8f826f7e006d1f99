// Package config provides moisturizer configuration. Values are layered:
// defaults, then a YAML or JSON file, then MOISTURIZER_* environment
// variables, then command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moisturizer/moisturizer/internal/backend"
	"github.com/moisturizer/moisturizer/internal/logging"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/internal/storage"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "MOISTURIZER_"

// DefaultDataDir is used when no data directory is configured.
const DefaultDataDir = "./data/moisturizer"

// Config holds the configuration of a moisturizer instance.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend configures the store holding the catalog and object tables
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Schema configures inference and migration
	Schema SchemaConfig `json:"schema" yaml:"schema"`

	// Snapshot configures where descriptor snapshots are written
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`

	// Log configures logging
	Log LogConfig `json:"log" yaml:"log"`
}

// BackendConfig selects the storage backend.
type BackendConfig struct {
	// Type is the backend type: sqlite, bolt
	Type string `json:"type" yaml:"type"`

	// Driver is the sqlite driver: sqlite3 (cgo) or sqlite (pure Go)
	Driver string `json:"driver" yaml:"driver"`

	// Path is the database file; defaults to a file under DataDir
	Path string `json:"path" yaml:"path"`
}

// SchemaConfig holds schema inference settings.
type SchemaConfig struct {
	// ConflictPolicy is reject or widen
	ConflictPolicy string `json:"conflict_policy" yaml:"conflict_policy"`

	// AutoCreateTypes creates unknown types on first write
	AutoCreateTypes bool `json:"auto_create_types" yaml:"auto_create_types"`

	// LockStripes is the number of per-type lock stripes
	LockStripes int `json:"lock_stripes" yaml:"lock_stripes"`

	// ReconcileOnStart re-syncs every table when the instance starts
	ReconcileOnStart bool `json:"reconcile_on_start" yaml:"reconcile_on_start"`

	// ReconcileParallelism bounds concurrent table syncs
	ReconcileParallelism int `json:"reconcile_parallelism" yaml:"reconcile_parallelism"`
}

// SnapshotConfig holds snapshot storage configuration.
type SnapshotConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the object path prefix snapshots are written under
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Backend: BackendConfig{
			Type:   backend.TypeSQLite,
			Driver: backend.DriverCGo,
		},
		Schema: SchemaConfig{
			ConflictPolicy:       string(schema.ConflictReject),
			AutoCreateTypes:      true,
			LockStripes:          64,
			ReconcileOnStart:     true,
			ReconcileParallelism: 4,
		},
		Snapshot: SnapshotConfig{
			Type:   storage.TypeLocal,
			Prefix: "snapshots",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Backend.Path == "" {
		name := "moisturizer.db"
		if c.Backend.Type == backend.TypeBolt {
			name = "moisturizer.bolt"
		}
		c.Backend.Path = filepath.Join(c.DataDir, name)
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// StagingDir is where snapshot files are staged before upload.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend.Type {
	case backend.TypeSQLite:
		if c.Backend.Driver != backend.DriverCGo && c.Backend.Driver != backend.DriverPure {
			return fmt.Errorf("invalid backend driver: %s (must be %s or %s)",
				c.Backend.Driver, backend.DriverCGo, backend.DriverPure)
		}
	case backend.TypeBolt:
	default:
		return fmt.Errorf("invalid backend type: %s (must be sqlite or bolt)", c.Backend.Type)
	}

	if _, err := schema.ParseConflictPolicy(c.Schema.ConflictPolicy); err != nil {
		return fmt.Errorf("schema.conflict_policy: %w", err)
	}
	if c.Schema.LockStripes < 1 {
		return fmt.Errorf("schema.lock_stripes must be positive, got %d", c.Schema.LockStripes)
	}
	if c.Schema.ReconcileParallelism < 1 {
		return fmt.Errorf("schema.reconcile_parallelism must be positive, got %d", c.Schema.ReconcileParallelism)
	}

	if c.Snapshot.Type != storage.TypeLocal && c.Snapshot.Type != storage.TypeS3 {
		return fmt.Errorf("invalid snapshot type: %s (must be local or s3)", c.Snapshot.Type)
	}
	if c.Snapshot.Type == storage.TypeS3 && c.Snapshot.S3.Bucket == "" {
		return fmt.Errorf("snapshot.s3.bucket is required when snapshot type is s3")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatConsole {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from MOISTURIZER_* environment variables. A
// variable that does not parse is an error.
func LoadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATA_DIR":               &cfg.DataDir,
		"BACKEND_TYPE":           &cfg.Backend.Type,
		"BACKEND_DRIVER":         &cfg.Backend.Driver,
		"BACKEND_PATH":           &cfg.Backend.Path,
		"SCHEMA_CONFLICT_POLICY": &cfg.Schema.ConflictPolicy,
		"SNAPSHOT_TYPE":          &cfg.Snapshot.Type,
		"SNAPSHOT_PATH":          &cfg.Snapshot.Path,
		"SNAPSHOT_PREFIX":        &cfg.Snapshot.Prefix,
		"S3_BUCKET":              &cfg.Snapshot.S3.Bucket,
		"S3_REGION":              &cfg.Snapshot.S3.Region,
		"S3_ENDPOINT":            &cfg.Snapshot.S3.Endpoint,
		"LOG_LEVEL":              &cfg.Log.Level,
		"LOG_FORMAT":             &cfg.Log.Format,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"SCHEMA_AUTO_CREATE_TYPES":  &cfg.Schema.AutoCreateTypes,
		"SCHEMA_RECONCILE_ON_START": &cfg.Schema.ReconcileOnStart,
		"S3_USE_PATH_STYLE":         &cfg.Snapshot.S3.UsePathStyle,
	}
	for name, dst := range bools {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"SCHEMA_LOCK_STRIPES":          &cfg.Schema.LockStripes,
		"SCHEMA_RECONCILE_PARALLELISM": &cfg.Schema.ReconcileParallelism,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}

// Load builds the configuration from the defaults, an optional file and the
// environment, then resolves it. Validation is left to the caller so flags
// can still be applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Backend.Path),
		c.StagingDir(),
	}
	if c.Snapshot.Type == storage.TypeLocal {
		dirs = append(dirs, c.Snapshot.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
