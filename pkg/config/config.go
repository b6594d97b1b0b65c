// Package config handles NornicPGQ configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --log-level, etc.)
//  2. Environment variables (NORNICPGQ_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables (all use NORNICPGQ_ prefix):
//
// Storage:
//   - NORNICPGQ_DATA_DIR="./data"
//   - NORNICPGQ_IN_MEMORY=true
//   - NORNICPGQ_SYNC_WRITES=true
//   - NORNICPGQ_LOW_MEMORY=true
//
// Graph cache:
//   - NORNICPGQ_CACHE_ENABLED=true
//   - NORNICPGQ_CACHE_MAX_ENTRIES=64
//   - NORNICPGQ_CACHE_MAX_GRAPH_MEMORY="2GB"
//
// Algorithms:
//   - NORNICPGQ_PAGERANK_DAMPING=0.85
//   - NORNICPGQ_PAGERANK_EPSILON=1e-6
//   - NORNICPGQ_PAGERANK_MAX_ITERATIONS=100
//   - NORNICPGQ_MAX_HOPS=16
//
// Parallelism:
//   - NORNICPGQ_PARALLEL_ENABLED=true
//   - NORNICPGQ_PARALLEL_MAX_WORKERS=8
//   - NORNICPGQ_PARALLEL_MIN_BATCH_SIZE=1024
//
// Pattern matching:
//   - NORNICPGQ_REPETITION="no_repeated_vertices"
//   - NORNICPGQ_MAX_UNBOUNDED_HOPS=64
//
// Logging:
//   - NORNICPGQ_LOG_LEVEL="info"
//   - NORNICPGQ_LOG_FORMAT="json"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/nornicpgq/pkg/algo"
	"github.com/orneryd/nornicpgq/pkg/cache"
	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/parallel"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const envPrefix = "NORNICPGQ_"

var configValidate = validator.New()

// Config holds all NornicPGQ configuration.
//
// Configuration is organized into logical sections:
//   - Storage: host table engine settings
//   - Cache: graph cache bounds
//   - Algorithms: PageRank and traversal defaults
//   - Parallel: worker pool used by CSR builds, algorithms and matching
//   - Pattern: pattern matching semantics
//   - Logging: logging configuration
type Config struct {
	Storage    StorageConfig   `yaml:"storage"`
	Cache      CacheConfig     `yaml:"cache"`
	Algorithms AlgorithmConfig `yaml:"algorithms"`
	Parallel   parallel.Config `yaml:"parallel"`
	Pattern    PatternConfig   `yaml:"pattern"`
	Logging    logging.Options `yaml:"logging"`
}

// StorageConfig holds host table storage settings.
type StorageConfig struct {
	// DataDir is the Badger directory. Required unless InMemory.
	DataDir string `yaml:"data_dir" validate:"required_without=InMemory"`
	// InMemory keeps tables in process memory only.
	InMemory   bool `yaml:"in_memory"`
	SyncWrites bool `yaml:"sync_writes"`
	LowMemory  bool `yaml:"low_memory"`
}

// CacheConfig holds graph cache settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxEntries bounds the number of cached projections. 0 means unbounded.
	MaxEntries int `yaml:"max_entries" validate:"gte=0"`
	// MaxGraphMemory caps a single projection ("512MB", "2GB", "0" for no cap).
	MaxGraphMemory string `yaml:"max_graph_memory"`
}

// AlgorithmConfig holds algorithm defaults.
type AlgorithmConfig struct {
	Damping       float64 `yaml:"damping" validate:"gt=0,lt=1"`
	Epsilon       float64 `yaml:"epsilon" validate:"gt=0"`
	MaxIterations int     `yaml:"max_iterations" validate:"gt=0"`
	// DefaultMaxHops applies to reachability when the caller asks for the default.
	DefaultMaxHops int `yaml:"default_max_hops" validate:"gt=0"`
}

// PatternConfig holds pattern matching settings.
type PatternConfig struct {
	Repetition       string `yaml:"repetition" validate:"omitempty,oneof=no_repeated_vertices no_repeated_edges allow_repetition"`
	MaxUnboundedHops int    `yaml:"max_unbounded_hops" validate:"gt=0"`
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{DataDir: "./data"},
		Cache:   CacheConfig{Enabled: true, MaxEntries: 64, MaxGraphMemory: "0"},
		Algorithms: AlgorithmConfig{
			Damping:        algo.DefaultDampingFactor,
			Epsilon:        algo.DefaultEpsilon,
			MaxIterations:  algo.DefaultMaxIterations,
			DefaultMaxHops: 16,
		},
		Parallel: parallel.DefaultConfig(),
		Pattern: PatternConfig{
			Repetition:       pattern.NoRepeatedVertices.String(),
			MaxUnboundedHops: pattern.DefaultMaxUnboundedHops,
		},
		Logging: logging.Options{Level: "info", Format: "text"},
	}
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads defaults, then the YAML file at configPath, then
// environment overrides, and validates the result. A missing file is not an
// error. Unknown YAML keys are.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvVars applies NORNICPGQ_* overrides to cfg.
func ApplyEnvVars(cfg *Config) {
	applyEnvVars(cfg)
}

func applyEnvVars(cfg *Config) {
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.InMemory = getEnvBool("IN_MEMORY", cfg.Storage.InMemory)
	cfg.Storage.SyncWrites = getEnvBool("SYNC_WRITES", cfg.Storage.SyncWrites)
	cfg.Storage.LowMemory = getEnvBool("LOW_MEMORY", cfg.Storage.LowMemory)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.MaxGraphMemory = getEnv("CACHE_MAX_GRAPH_MEMORY", cfg.Cache.MaxGraphMemory)

	cfg.Algorithms.Damping = getEnvFloat("PAGERANK_DAMPING", cfg.Algorithms.Damping)
	cfg.Algorithms.Epsilon = getEnvFloat("PAGERANK_EPSILON", cfg.Algorithms.Epsilon)
	cfg.Algorithms.MaxIterations = getEnvInt("PAGERANK_MAX_ITERATIONS", cfg.Algorithms.MaxIterations)
	cfg.Algorithms.DefaultMaxHops = getEnvInt("MAX_HOPS", cfg.Algorithms.DefaultMaxHops)

	cfg.Parallel.Enabled = getEnvBool("PARALLEL_ENABLED", cfg.Parallel.Enabled)
	cfg.Parallel.MaxWorkers = getEnvInt("PARALLEL_MAX_WORKERS", cfg.Parallel.MaxWorkers)
	cfg.Parallel.MinBatchSize = getEnvInt("PARALLEL_MIN_BATCH_SIZE", cfg.Parallel.MinBatchSize)

	cfg.Pattern.Repetition = strings.ToLower(getEnv("REPETITION", cfg.Pattern.Repetition))
	cfg.Pattern.MaxUnboundedHops = getEnvInt("MAX_UNBOUNDED_HOPS", cfg.Pattern.MaxUnboundedHops)

	cfg.Logging.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("LOG_FORMAT", cfg.Logging.Format))
}

// Validate checks every section. The returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := ParseMemorySize(c.Cache.MaxGraphMemory); err != nil {
		return fmt.Errorf("%w: cache.max_graph_memory: %v", ErrInvalidConfig, err)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	store := c.Storage.DataDir
	if c.Storage.InMemory {
		store = "memory"
	}
	cacheDesc := "off"
	if c.Cache.Enabled {
		cacheDesc = fmt.Sprintf("%d entries", c.Cache.MaxEntries)
		if n, _ := ParseMemorySize(c.Cache.MaxGraphMemory); n > 0 {
			cacheDesc += ", " + FormatMemorySize(n) + " per graph"
		}
	}
	return fmt.Sprintf(
		"Config{Storage: %s, Cache: %s, Workers: %d, Repetition: %s, LogLevel: %s}",
		store, cacheDesc, c.Parallel.Normalize().MaxWorkers, c.Pattern.Repetition, c.Logging.Level,
	)
}

// StorageOptions converts the storage section to Badger engine options.
func (c *Config) StorageOptions() storage.BadgerOptions {
	return storage.BadgerOptions{
		DataDir:    c.Storage.DataDir,
		InMemory:   c.Storage.InMemory,
		SyncWrites: c.Storage.SyncWrites,
		LowMemory:  c.Storage.LowMemory,
	}
}

// CacheOptions converts the cache section.
func (c *Config) CacheOptions(log logging.Logger) cache.Options {
	return cache.Options{MaxEntries: c.Cache.MaxEntries, Logger: log}
}

// CSROptions returns build options with the per-graph memory cap applied.
// Every stored edge costs a neighbor slot and an edge id slot.
func (c *Config) CSROptions() csr.Options {
	opts := csr.DefaultOptions()
	opts.Parallel = c.Parallel
	if n, err := ParseMemorySize(c.Cache.MaxGraphMemory); err == nil && n > 0 {
		opts.MaxEdges = n / 16
	}
	return opts
}

// PageRankOptions converts the algorithm section.
func (c *Config) PageRankOptions() algo.PageRankOptions {
	return algo.PageRankOptions{
		Damping:       c.Algorithms.Damping,
		Epsilon:       c.Algorithms.Epsilon,
		MaxIterations: c.Algorithms.MaxIterations,
		Parallel:      c.Parallel,
	}
}

// PatternOptions converts the pattern section.
func (c *Config) PatternOptions() (pattern.Options, error) {
	rep, err := pattern.ParseRepetitionPolicy(c.Pattern.Repetition)
	if err != nil {
		return pattern.Options{}, err
	}
	return pattern.Options{
		Repetition:       rep,
		MaxUnboundedHops: c.Pattern.MaxUnboundedHops,
		Parallel:         c.Parallel,
	}, nil
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. $NORNICPGQ_CONFIG
//  2. ~/.nornicpgq/config.yaml
//  3. Current working directory (config.yaml, nornicpgq.yaml)
//  4. ~/.config/nornicpgq/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicpgq", "config.yaml"))
	}
	candidates = append(candidates, "config.yaml", "nornicpgq.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicpgq", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing. Keys are given without
// the NORNICPGQ_ prefix; unparsable values keep the default.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(envPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(envPrefix + key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

// ParseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited", "".
func ParseMemorySize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0, nil
	}
	num := strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(num, "K"):
		multiplier = 1024
	case strings.HasSuffix(num, "M"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(num, "G"):
		multiplier = 1024 * 1024 * 1024
	case strings.HasSuffix(num, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		num = num[:len(num)-1]
	}

	val, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("bad memory size %q", s)
	}
	return val * multiplier, nil
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case n >= TB:
		return fmt.Sprintf("%.2f TB", float64(n)/float64(TB))
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(GB))
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
