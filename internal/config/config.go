package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/resume/internal/errors"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "resume.json"

	// TOMLFileName and YAMLFileName are the alternative configuration files,
	// consulted in that order when ConfigFileName is absent.
	TOMLFileName = "resume.toml"
	YAMLFileName = "resume.yaml"

	// DefaultAddr is the default listen address of `resume serve`.
	DefaultAddr = "localhost:7070"

	// DefaultStoreDSN keeps snapshots in process memory.
	DefaultStoreDSN = "memory:"

	// DefaultTTL is the default snapshot expiry.
	DefaultTTL = "24h"

	// DefaultNamespace is the default Prometheus namespace.
	DefaultNamespace = "resume"
)

// fileNames lists the recognised configuration files in lookup order.
var fileNames = []string{ConfigFileName, TOMLFileName, YAMLFileName}

// Config represents the complete resume configuration.
type Config struct {
	// Snapshot controls how snapshots are written.
	Snapshot SnapshotConfig `json:"snapshot,omitempty" toml:"snapshot" yaml:"snapshot,omitempty"`

	// Store selects the snapshot persistence backend.
	Store StoreConfig `json:"store,omitempty" toml:"store" yaml:"store,omitempty"`

	// Metrics configures the Prometheus collectors.
	Metrics MetricsConfig `json:"metrics,omitempty" toml:"metrics" yaml:"metrics,omitempty"`

	// Log configures structured logging.
	Log LogConfig `json:"log,omitempty" toml:"log" yaml:"log,omitempty"`

	// Modules configures where lazy symbols are loaded from.
	Modules ModulesConfig `json:"modules,omitempty" toml:"modules" yaml:"modules,omitempty"`

	// Serve configures the inspection server.
	Serve ServeConfig `json:"serve,omitempty" toml:"serve" yaml:"serve,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// SnapshotConfig controls snapshot encoding.
type SnapshotConfig struct {
	// Format is "json" or "cbor".
	Format string `json:"format,omitempty" toml:"format" yaml:"format,omitempty"`

	// AllowDeferred serializes unsettled promises as deferred entries
	// instead of failing.
	AllowDeferred bool `json:"allowDeferred,omitempty" toml:"allowDeferred" yaml:"allowDeferred,omitempty"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	// DSN is "memory:", "sqlite:<path>", or "s3://bucket/prefix?region=...".
	DSN string `json:"dsn,omitempty" toml:"dsn" yaml:"dsn,omitempty"`

	// TTL is the expiry applied to stored snapshots (e.g., "24h").
	// "0" stores snapshots without expiry.
	TTL string `json:"ttl,omitempty" toml:"ttl" yaml:"ttl,omitempty"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Enabled exposes /metrics on the inspection server.
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty" toml:"namespace" yaml:"namespace,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `json:"level,omitempty" toml:"level" yaml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" toml:"format" yaml:"format,omitempty"`
}

// ModulesConfig configures the JavaScript module loader.
type ModulesConfig struct {
	// Dir is the directory module paths are resolved against.
	Dir string `json:"dir,omitempty" toml:"dir" yaml:"dir,omitempty"`
}

// ServeConfig configures `resume serve`.
type ServeConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" toml:"addr" yaml:"addr,omitempty"`

	// ReadOnly disables snapshot uploads and deletes.
	ReadOnly bool `json:"readOnly,omitempty" toml:"readOnly" yaml:"readOnly,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Snapshot: SnapshotConfig{
			Format: "json",
		},
		Store: StoreConfig{
			DSN: DefaultStoreDSN,
			TTL: DefaultTTL,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: DefaultNamespace,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Modules: ModulesConfig{
			Dir: "modules",
		},
		Serve: ServeConfig{
			Addr: DefaultAddr,
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for resume.json, resume.toml, then resume.yaml.
func Load(dir string) (*Config, error) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("R500").
		WithDetail("No resume.json, resume.toml, or resume.yaml found in " + dir)
}

// LoadFile reads configuration from the specified file path. The format is
// chosen by extension; anything other than .toml, .yaml, or .yml is JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("R500").
				WithDetail("No configuration file at " + path)
		}
		return nil, errors.New("R500").Wrap(err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	cfg.configPath = path
	return cfg, nil
}

// Parse decodes configuration data in the format named by ext
// (".json", ".toml", ".yaml", ".yml") and applies defaults.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := New()

	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("R500").
			WithDetail("Failed to parse configuration: " + err.Error())
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path, in the format
// named by its extension.
func (c *Config) SaveTo(path string) error {
	data, err := c.Marshal(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("R500").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Marshal encodes the configuration in the format named by ext.
func (c *Config) Marshal(ext string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(ext) {
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
		// Add newline at end of file
		data = append(data, '\n')
	}
	if err != nil {
		return nil, errors.New("R500").Wrap(err)
	}
	return data, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Snapshot.Format == "" {
		c.Snapshot.Format = "json"
	}
	c.Snapshot.Format = strings.ToLower(c.Snapshot.Format)

	if c.Store.DSN == "" {
		c.Store.DSN = DefaultStoreDSN
	}
	if c.Store.TTL == "" {
		c.Store.TTL = DefaultTTL
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Modules.Dir == "" {
		c.Modules.Dir = "modules"
	}

	if c.Serve.Addr == "" {
		c.Serve.Addr = DefaultAddr
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Snapshot.Format {
	case "json", "cbor":
	default:
		return errors.New("R500").
			WithDetail("snapshot.format must be \"json\" or \"cbor\", got " + strconv.Quote(c.Snapshot.Format))
	}

	if _, err := c.TTL(); err != nil {
		return errors.New("R500").
			WithDetail("store.ttl is not a duration: " + strconv.Quote(c.Store.TTL))
	}

	if _, err := c.LogLevel(); err != nil {
		return errors.New("R500").
			WithDetail("log.level must be debug, info, warn, or error, got " + strconv.Quote(c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("R500").
			WithDetail("log.format must be \"text\" or \"json\", got " + strconv.Quote(c.Log.Format))
	}

	if !strings.Contains(c.Store.DSN, ":") {
		return errors.New("R500").
			WithDetail("store.dsn has no scheme: " + strconv.Quote(c.Store.DSN))
	}
	return nil
}

// TTL returns the parsed snapshot expiry. Zero means no expiry.
func (c *Config) TTL() (time.Duration, error) {
	if c.Store.TTL == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.TTL)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Newf(errors.CategoryConfig, "negative ttl %s", c.Store.TTL)
	}
	return d, nil
}

// LogLevel returns the slog level named by Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// ModulesPath returns the absolute path to the modules directory.
func (c *Config) ModulesPath() string {
	if filepath.IsAbs(c.Modules.Dir) {
		return c.Modules.Dir
	}
	return filepath.Join(c.Dir(), c.Modules.Dir)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range fileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing a configuration file, or an error if
// none is found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("R500").
				WithDetail("No resume configuration found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory
// or its nearest ancestor that has one. Without any configuration file the
// defaults are returned.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return New(), nil
	}

	return Load(root)
}
