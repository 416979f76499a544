package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty dir and clears env overrides.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"INDEX_ROOT", "PDF_DIR", "ATRIUM_UPLOADS_ROOT", "ATRIUM_PACKS_DIST_PATH",
		"ATRIUM_MAX_UPLOAD_SIZE_MB", "ATRIUM_UPLOAD_RATE_LIMIT", "ATRIUM_MAX_CONCURRENT_JOBS",
		"ATRIUM_REDIS_URL", "ATRIUM_BM25_BACKEND", "ATRIUM_HTTP_ADDR", "ATRIUM_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

// =============================================================================
// AC01: Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: defaults match the upload and pack limits
	assert.Equal(t, 80.0, cfg.Uploads.MaxSizeMB)
	assert.Equal(t, 5, cfg.Uploads.RateLimitPerHour)
	assert.Equal(t, []string{"CC BY 4.0", "CC BY-SA 4.0"}, cfg.Packs.AllowedLicenses)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "1h", cfg.Jobs.Retention)
	assert.Empty(t, cfg.Jobs.RedisURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// When: loading with no config files
	cfg, err := Load(dir)

	// Then: directories are resolved under the project dir
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "textbook_index"), cfg.Library.IndexRoot)
	assert.Equal(t, filepath.Join(dir, "pdfs"), cfg.Library.PDFDir)
	assert.Equal(t, filepath.Join(dir, "atrium_packs", "dist"), cfg.Packs.DistPath)
}

// =============================================================================
// AC02: Layering
// =============================================================================

func TestLoad_ProjectOverridesUser(t *testing.T) {
	isolate(t)
	userDir := os.Getenv("XDG_CONFIG_HOME")
	require.NoError(t, os.MkdirAll(filepath.Join(userDir, "atrium"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "atrium", "config.yaml"),
		[]byte("jobs:\n  max_concurrent: 2\nsearch:\n  bm25_backend: bleve\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".atrium.yaml"),
		[]byte("jobs:\n  max_concurrent: 7\n"), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: project wins where set, user config fills the rest
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "bleve", cfg.Search.BM25Backend)
	assert.Equal(t, 220, cfg.Chunking.ChunkWords)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".atrium.yml"),
		[]byte("library:\n  index_root: from-yaml\n"), 0o644))

	abs := filepath.Join(t.TempDir(), "idx")
	t.Setenv("INDEX_ROOT", abs)
	t.Setenv("ATRIUM_MAX_UPLOAD_SIZE_MB", "12.5")
	t.Setenv("ATRIUM_UPLOAD_RATE_LIMIT", "not-a-number")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Library.IndexRoot)
	assert.Equal(t, 12.5, cfg.Uploads.MaxSizeMB)
	// Invalid numbers are ignored
	assert.Equal(t, 5, cfg.Uploads.RateLimitPerHour)
}

func TestLoad_DotEnvFillsUnsetVariables(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("ATRIUM_JOB_RETENTION=30m\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("ATRIUM_JOB_RETENTION") })

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "30m", cfg.Jobs.Retention)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".atrium.yaml"), []byte("jobs: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// =============================================================================
// AC03: Validation
// =============================================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Search.BM25Backend = "lucene" }, "bm25_backend"},
		{"overlap", func(c *Config) { c.Chunking.OverlapWords = c.Chunking.ChunkWords }, "overlap_words"},
		{"retention", func(c *Config) { c.Jobs.Retention = "forever" }, "jobs.retention"},
		{"extension", func(c *Config) { c.Library.Extensions = []string{"pdf"} }, "extensions"},
		{"licenses", func(c *Config) { c.Packs.AllowedLicenses = nil }, "allowed_licenses"},
		{"log level", func(c *Config) { c.Server.LogLevel = "trace" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationAndUploadBytes(t *testing.T) {
	assert.Equal(t, 30*time.Minute, Duration("30m", time.Hour))
	assert.Equal(t, time.Hour, Duration("bogus", time.Hour))

	cfg := NewConfig()
	assert.Equal(t, int64(80*1024*1024), cfg.MaxUploadBytes())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Jobs.MaxConcurrent = 9
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".atrium.yaml")))

	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Jobs.MaxConcurrent)
}
