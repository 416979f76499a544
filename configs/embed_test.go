package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/config"
)

func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the project template as .atrium.yaml with no user config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"INDEX_ROOT", "PDF_DIR", "ATRIUM_REDIS_URL", "ATRIUM_HTTP_ADDR", "ATRIUM_TELEMETRY_DB", "ATRIUM_BM25_BACKEND", "ATRIUM_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".atrium.yaml"), []byte(ProjectConfigTemplate), 0o644))

	// When: loading it
	cfg, err := config.Load(dir)

	// Then: it yields the built-in defaults
	require.NoError(t, err)
	def := config.NewConfig()
	assert.Equal(t, filepath.Join(dir, def.Library.IndexRoot), cfg.Library.IndexRoot)
	assert.Equal(t, def.Chunking, cfg.Chunking)
	assert.Equal(t, def.Search.Dimensions, cfg.Search.Dimensions)
	assert.Equal(t, def.Packs.AllowedLicenses, cfg.Packs.AllowedLicenses)
	assert.Empty(t, cfg.Search.TelemetryDB)
}

func TestUserConfigTemplate_Loads(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	path := filepath.Join(xdg, "atrium", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(UserConfigTemplate), 0o644))

	cfg, err := config.Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.HTTPAddr)
}
