package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicpgq/pkg/pattern"
)

var envKeys = []string{
	"DATA_DIR", "IN_MEMORY", "SYNC_WRITES", "LOW_MEMORY",
	"CACHE_ENABLED", "CACHE_MAX_ENTRIES", "CACHE_MAX_GRAPH_MEMORY",
	"PAGERANK_DAMPING", "PAGERANK_EPSILON", "PAGERANK_MAX_ITERATIONS", "MAX_HOPS",
	"PARALLEL_ENABLED", "PARALLEL_MAX_WORKERS", "PARALLEL_MIN_BATCH_SIZE",
	"REPETITION", "MAX_UNBOUNDED_HOPS", "LOG_LEVEL", "LOG_FORMAT", "CONFIG",
}

// clearEnvVars unsets every NORNICPGQ_ variable for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(envPrefix+k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg := LoadDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.InMemory)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.85, cfg.Algorithms.Damping)
	assert.Equal(t, 1e-6, cfg.Algorithms.Epsilon)
	assert.Equal(t, 100, cfg.Algorithms.MaxIterations)
	assert.True(t, cfg.Parallel.Enabled)
	assert.Equal(t, "no_repeated_vertices", cfg.Pattern.Repetition)
	assert.Equal(t, 64, cfg.Pattern.MaxUnboundedHops)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("NORNICPGQ_IN_MEMORY", "yes")
	t.Setenv("NORNICPGQ_CACHE_MAX_ENTRIES", "5")
	t.Setenv("NORNICPGQ_PAGERANK_DAMPING", "0.9")
	t.Setenv("NORNICPGQ_PARALLEL_ENABLED", "false")
	t.Setenv("NORNICPGQ_REPETITION", "NO_REPEATED_EDGES")
	t.Setenv("NORNICPGQ_LOG_LEVEL", "DEBUG")
	t.Setenv("NORNICPGQ_MAX_HOPS", "not-a-number")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 5, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.9, cfg.Algorithms.Damping)
	assert.False(t, cfg.Parallel.Enabled)
	assert.Equal(t, "no_repeated_edges", cfg.Pattern.Repetition)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 16, cfg.Algorithms.DefaultMaxHops, "unparsable values keep the default")
}

func TestLoadFromFile(t *testing.T) {
	clearEnvVars(t)
	path := writeConfig(t, `
storage:
  data_dir: /var/lib/pgq
  sync_writes: true
cache:
  max_entries: 8
  max_graph_memory: 1GB
algorithms:
  damping: 0.5
  max_iterations: 20
pattern:
  repetition: allow_repetition
  max_unbounded_hops: 10
logging:
  format: json
`)
	t.Setenv("NORNICPGQ_CACHE_MAX_ENTRIES", "3")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pgq", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, 3, cfg.Cache.MaxEntries, "environment beats the file")
	assert.Equal(t, 0.5, cfg.Algorithms.Damping)
	assert.Equal(t, 1e-6, cfg.Algorithms.Epsilon, "absent keys keep defaults")
	assert.Equal(t, 20, cfg.Algorithms.MaxIterations)
	assert.Equal(t, "json", cfg.Logging.Format)

	opts, err := cfg.PatternOptions()
	require.NoError(t, err)
	assert.Equal(t, pattern.AllowRepetition, opts.Repetition)
	assert.Equal(t, 10, opts.MaxUnboundedHops)

	assert.Equal(t, int64(1<<30)/16, cfg.CSROptions().MaxEdges)
	assert.True(t, cfg.CSROptions().KeepEdgeIDs)
	assert.Equal(t, 0.5, cfg.PageRankOptions().Damping)
	assert.Equal(t, 3, cfg.CacheOptions(nil).MaxEntries)

	so := cfg.StorageOptions()
	assert.Equal(t, "/var/lib/pgq", so.DataDir)
	assert.True(t, so.SyncWrites)
}

func TestLoadFromFileMissingAndEmpty(t *testing.T) {
	clearEnvVars(t)
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, LoadDefaults(), cfg)

	cfg, err = LoadFromFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, LoadDefaults(), cfg)
}

func TestLoadFromFileRejects(t *testing.T) {
	clearEnvVars(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown_key", "cache:\n  size: 3\n"},
		{"bad_yaml", "cache: [\n"},
		{"damping", "algorithms:\n  damping: 1.5\n"},
		{"repetition", "pattern:\n  repetition: sometimes\n"},
		{"memory", "cache:\n  max_graph_memory: lots\n"},
		{"log_level", "logging:\n  level: loud\n"},
		{"no_data_dir", "storage:\n  data_dir: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadFromFile(writeConfig(t, "algorithms:\n  epsilon: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInMemoryNeedsNoDataDir(t *testing.T) {
	cfg := LoadDefaults()
	cfg.Storage.DataDir = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestConfigString(t *testing.T) {
	cfg := LoadDefaults()
	cfg.Parallel.MaxWorkers = 4
	cfg.Cache.MaxGraphMemory = "512MB"
	assert.Equal(t,
		"Config{Storage: ./data, Cache: 64 entries, 512.00 MB per graph, Workers: 4, Repetition: no_repeated_vertices, LogLevel: info}",
		cfg.String())

	cfg.Storage.InMemory = true
	cfg.Cache.Enabled = false
	assert.Contains(t, cfg.String(), "Storage: memory, Cache: off")
}

func TestFindConfigFile(t *testing.T) {
	clearEnvVars(t)
	path := writeConfig(t, "{}\n")
	t.Setenv("NORNICPGQ_CONFIG", path)
	assert.Equal(t, path, FindConfigFile())
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"unlimited", 0},
		{"1024", 1024},
		{"1KB", 1024},
		{"2mb", 2 << 20},
		{"1G", 1 << 30},
		{"1TB", 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemorySize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	for _, bad := range []string{"MB", "-1GB", "ten"} {
		_, err := ParseMemorySize(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.50 KB", FormatMemorySize(1536))
	assert.Equal(t, "2.00 GB", FormatMemorySize(2<<30))
}
