// Package config loads s3smart settings from a JSON or TOML file, the
// environment and built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultPartSizeMB    = 64
	DefaultWorkers       = 16
	DefaultRetries       = 8
	DefaultMaxPool       = 64
	DefaultParallelFiles = 1

	EnvPrefix = "S3SMART_"
)

// Config is the on-disk configuration. Unset keys are nil.
type Config struct {
	DefaultPartSizeMB *int     `json:"default_part_size_mb,omitempty" toml:"default_part_size_mb"`
	DefaultWorkers    *int     `json:"default_workers,omitempty" toml:"default_workers"`
	BrowsePartSizeMB  *int     `json:"browse_part_size_mb,omitempty" toml:"browse_part_size_mb"`
	MaxMBps           *float64 `json:"max_mbps,omitempty" toml:"max_mbps"`
	Region            *string  `json:"region,omitempty" toml:"region"`
	EndpointURL       *string  `json:"endpoint_url,omitempty" toml:"endpoint_url"`
	Retries           *int     `json:"retries,omitempty" toml:"retries"`
	MaxPool           *int     `json:"max_pool,omitempty" toml:"max_pool"`
	ParallelFiles     *int     `json:"parallel_files,omitempty" toml:"parallel_files"`
}

// Settings are fully resolved values with defaults applied.
type Settings struct {
	PartSizeMB    int
	Workers       int
	MaxMBps       float64
	Region        string
	EndpointURL   string
	Retries       int
	MaxPool       int
	ParallelFiles int
}

// Resolve fills every key missing from c with its built-in default.
func (c Config) Resolve() Settings {
	return Settings{
		PartSizeMB:    deref(c.DefaultPartSizeMB, DefaultPartSizeMB),
		Workers:       deref(c.DefaultWorkers, DefaultWorkers),
		MaxMBps:       deref(c.MaxMBps, 0),
		Region:        deref(c.Region, ""),
		EndpointURL:   deref(c.EndpointURL, ""),
		Retries:       deref(c.Retries, DefaultRetries),
		MaxPool:       deref(c.MaxPool, DefaultMaxPool),
		ParallelFiles: deref(c.ParallelFiles, DefaultParallelFiles),
	}
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Discovery holds the directories searched for a config file.
type Discovery struct {
	WorkDir string
	HomeDir string
}

// DefaultDiscovery searches the current directory and the user's home.
func DefaultDiscovery() Discovery {
	wd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return Discovery{WorkDir: wd, HomeDir: home}
}

// Candidates returns the search order for implicit config files.
func (d Discovery) Candidates() []string {
	var paths []string
	add := func(dir, name string) {
		if dir != "" {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	add(d.WorkDir, "s3smart.json")
	add(d.HomeDir, ".s3smart.json")
	add(d.WorkDir, "s3smart.toml")
	add(d.HomeDir, ".s3smart.toml")
	return paths
}

// File is a loaded configuration and where it came from.
type File struct {
	Path    string
	Created bool
	Config  Config
}

// Load reads explicitPath when given, otherwise the first existing
// candidate. When nothing exists a default s3smart.json is written to the
// working directory.
func Load(explicitPath string, d Discovery) (*File, error) {
	if explicitPath != "" {
		path, err := expandHome(explicitPath, d.HomeDir)
		if err != nil {
			return nil, err
		}
		cfg, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &File{Path: path, Config: cfg}, nil
	}

	for _, path := range d.Candidates() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &File{Path: path, Config: cfg}, nil
	}

	if d.WorkDir == "" {
		return &File{}, nil
	}
	path := filepath.Join(d.WorkDir, "s3smart.json")
	cfg, err := WriteDefault(path)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Created: true, Config: cfg}, nil
}

// ReadFile decodes a .toml file with TOML and anything else as JSON. Keys
// starting with "_" are ignored.
func ReadFile(path string) (Config, error) {
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration, with a note for each key,
// and returns it.
func WriteDefault(path string) (Config, error) {
	doc := map[string]any{
		"_comment":                   "Default configuration file for s3smart. Adjust values to tune performance.",
		"_note_browse_part_size_mb":  "Chunk size (in MB) kept for interactive transfers.",
		"browse_part_size_mb":        128,
		"_note_default_part_size_mb": "Default chunk size (in MB) for bulk upload/download operations.",
		"default_part_size_mb":       256,
		"_note_default_workers":      "Number of parallel workers for concurrent transfers.",
		"default_workers":            18,
		"_note_retries":              "Attempts per S3 request on throttling and transient errors.",
		"retries":                    DefaultRetries,
		"_note_max_pool":             "Maximum idle HTTP connections kept per host.",
		"max_pool":                   DefaultMaxPool,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Config{}, fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return Config{}, fmt.Errorf("write default config: %w", err)
	}
	return ReadFile(path)
}

func expandHome(path, home string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	if home == "" {
		return "", errors.New("cannot expand ~: home directory unknown")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c with S3SMART_* variables found through lookup.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	ints := []struct {
		name string
		dst  **int
	}{
		{"PART_SIZE_MB", &c.DefaultPartSizeMB},
		{"WORKERS", &c.DefaultWorkers},
		{"RETRIES", &c.Retries},
		{"MAX_POOL", &c.MaxPool},
		{"PARALLEL_FILES", &c.ParallelFiles},
	}
	for _, v := range ints {
		raw, ok := lookup(EnvPrefix + v.name)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, v.name, err)
		}
		*v.dst = &n
	}

	if raw, ok := lookup(EnvPrefix + "MAX_MBPS"); ok && raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse %sMAX_MBPS: %w", EnvPrefix, err)
		}
		c.MaxMBps = &f
	}

	strs := []struct {
		name string
		dst  **string
	}{
		{"REGION", &c.Region},
		{"ENDPOINT_URL", &c.EndpointURL},
	}
	for _, v := range strs {
		if raw, ok := lookup(EnvPrefix + v.name); ok && raw != "" {
			s := raw
			*v.dst = &s
		}
	}
	return nil
}
