// Package config loads Atrium configuration.
//
// Precedence, lowest first: built-in defaults, the user config
// (~/.config/atrium/config.yaml), the project config (.atrium.yaml), a
// project .env file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete Atrium configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Library  LibraryConfig  `yaml:"library" json:"library"`
	Chunking ChunkingConfig `yaml:"chunking" json:"chunking"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Jobs     JobsConfig     `yaml:"jobs" json:"jobs"`
	Uploads  UploadsConfig  `yaml:"uploads" json:"uploads"`
	Packs    PacksConfig    `yaml:"packs" json:"packs"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Watch    WatchConfig    `yaml:"watch" json:"watch"`
}

// LibraryConfig locates the index root and the source directory it is built from.
type LibraryConfig struct {
	// IndexRoot holds library.json, books/ and search/. Env: INDEX_ROOT.
	IndexRoot string `yaml:"index_root" json:"index_root"`
	// PDFDir is the default source directory for build. Env: PDF_DIR.
	PDFDir string `yaml:"pdf_dir" json:"pdf_dir"`
	// Extensions lists the source file extensions build picks up.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// ChunkingConfig configures the word-window chunker.
type ChunkingConfig struct {
	ChunkWords   int `yaml:"chunk_words" json:"chunk_words"`
	OverlapWords int `yaml:"overlap_words" json:"overlap_words"`
}

// SearchConfig configures the derived search artifacts.
type SearchConfig struct {
	// BM25Backend selects the keyword index: "sqlite" (default) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	// Dimensions of the static embedding vectors.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// EmbedCacheSize is the number of cached chunk embeddings.
	EmbedCacheSize int `yaml:"embed_cache_size" json:"embed_cache_size"`
	// TelemetryDB persists query telemetry to a sqlite file when set.
	// Env: ATRIUM_TELEMETRY_DB.
	TelemetryDB string `yaml:"telemetry_db" json:"telemetry_db,omitempty"`
}

// JobsConfig configures the background job manager.
type JobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// Retention is how long terminal jobs stay queryable (e.g. "1h").
	Retention string `yaml:"retention" json:"retention"`
	// GCInterval is how often terminal jobs are swept.
	GCInterval string `yaml:"gc_interval" json:"gc_interval"`
	// RedisURL enables the redis job snapshot mirror when set. Env: ATRIUM_REDIS_URL.
	RedisURL string `yaml:"redis_url" json:"redis_url"`
}

// UploadsConfig configures single-file uploads.
type UploadsConfig struct {
	Root             string  `yaml:"root" json:"root"`
	MaxSizeMB        float64 `yaml:"max_size_mb" json:"max_size_mb"`
	RateLimitPerHour int     `yaml:"rate_limit_per_hour" json:"rate_limit_per_hour"`
}

// PacksConfig configures content pack installs.
type PacksConfig struct {
	// DistPath holds locally built packs (<dist>/<pack_id>/pack.json or <pack_id>.zip).
	DistPath        string   `yaml:"dist_path" json:"dist_path"`
	AllowedLicenses []string `yaml:"allowed_licenses" json:"allowed_licenses"`
	DownloadTimeout string   `yaml:"download_timeout" json:"download_timeout"`
}

// ServerConfig configures the HTTP API, the daemon socket and logging.
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr" json:"http_addr"`
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// WatchConfig configures `atrium watch`.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// DefaultAllowedLicenses are the licenses a pack book may carry.
var DefaultAllowedLicenses = []string{"CC BY 4.0", "CC BY-SA 4.0"}

// NewConfig creates a new Config with defaults. Relative paths are resolved
// against the project directory by Load.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Library: LibraryConfig{
			IndexRoot:  "textbook_index",
			PDFDir:     "pdfs",
			Extensions: []string{".pdf", ".txt", ".md"},
		},
		Chunking: ChunkingConfig{
			ChunkWords:   220,
			OverlapWords: 40,
		},
		Search: SearchConfig{
			BM25Backend:    "sqlite",
			Dimensions:     256,
			EmbedCacheSize: 4096,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
			Retention:     "1h",
			GCInterval:    "5m",
		},
		Uploads: UploadsConfig{
			Root:             "uploads",
			MaxSizeMB:        80,
			RateLimitPerHour: 5,
		},
		Packs: PacksConfig{
			DistPath:        filepath.Join("atrium_packs", "dist"),
			AllowedLicenses: append([]string(nil), DefaultAllowedLicenses...),
			DownloadTimeout: "2m",
		},
		Server: ServerConfig{
			HTTPAddr:   "127.0.0.1:8765",
			SocketPath: "",
			LogLevel:   "info",
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/atrium/config.yaml or ~/.config/atrium/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "atrium", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "atrium", "config.yaml")
	}
	return filepath.Join(home, ".config", "atrium", "config.yaml")
}

// Load loads configuration for the project in dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// .env never overrides variables already present in the environment.
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .atrium.yaml, or .atrium.yml as a fallback.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".atrium.yaml", ".atrium.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(o *Config) {
	if o.Version != 0 {
		c.Version = o.Version
	}

	setString(&c.Library.IndexRoot, o.Library.IndexRoot)
	setString(&c.Library.PDFDir, o.Library.PDFDir)
	if len(o.Library.Extensions) > 0 {
		c.Library.Extensions = o.Library.Extensions
	}

	setInt(&c.Chunking.ChunkWords, o.Chunking.ChunkWords)
	setInt(&c.Chunking.OverlapWords, o.Chunking.OverlapWords)

	setString(&c.Search.BM25Backend, o.Search.BM25Backend)
	setInt(&c.Search.Dimensions, o.Search.Dimensions)
	setInt(&c.Search.EmbedCacheSize, o.Search.EmbedCacheSize)
	setString(&c.Search.TelemetryDB, o.Search.TelemetryDB)

	setInt(&c.Jobs.MaxConcurrent, o.Jobs.MaxConcurrent)
	setString(&c.Jobs.Retention, o.Jobs.Retention)
	setString(&c.Jobs.GCInterval, o.Jobs.GCInterval)
	setString(&c.Jobs.RedisURL, o.Jobs.RedisURL)

	setString(&c.Uploads.Root, o.Uploads.Root)
	if o.Uploads.MaxSizeMB != 0 {
		c.Uploads.MaxSizeMB = o.Uploads.MaxSizeMB
	}
	setInt(&c.Uploads.RateLimitPerHour, o.Uploads.RateLimitPerHour)

	setString(&c.Packs.DistPath, o.Packs.DistPath)
	if len(o.Packs.AllowedLicenses) > 0 {
		c.Packs.AllowedLicenses = o.Packs.AllowedLicenses
	}
	setString(&c.Packs.DownloadTimeout, o.Packs.DownloadTimeout)

	setString(&c.Server.HTTPAddr, o.Server.HTTPAddr)
	setString(&c.Server.SocketPath, o.Server.SocketPath)
	setString(&c.Server.LogLevel, o.Server.LogLevel)

	setString(&c.Watch.Debounce, o.Watch.Debounce)
}

// applyEnvOverrides applies INDEX_ROOT, PDF_DIR and ATRIUM_* overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEX_ROOT"); v != "" {
		c.Library.IndexRoot = v
	}
	if v := os.Getenv("PDF_DIR"); v != "" {
		c.Library.PDFDir = v
	}
	if v := os.Getenv("ATRIUM_UPLOADS_ROOT"); v != "" {
		c.Uploads.Root = v
	}
	if v := os.Getenv("ATRIUM_PACKS_DIST_PATH"); v != "" {
		c.Packs.DistPath = v
	}
	if v := os.Getenv("ATRIUM_MAX_UPLOAD_SIZE_MB"); v != "" {
		if mb, err := strconv.ParseFloat(v, 64); err == nil && mb > 0 {
			c.Uploads.MaxSizeMB = mb
		}
	}
	if v := os.Getenv("ATRIUM_UPLOAD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Uploads.RateLimitPerHour = n
		}
	}
	if v := os.Getenv("ATRIUM_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Jobs.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ATRIUM_JOB_RETENTION"); v != "" {
		c.Jobs.Retention = v
	}
	if v := os.Getenv("ATRIUM_REDIS_URL"); v != "" {
		c.Jobs.RedisURL = v
	}
	if v := os.Getenv("ATRIUM_TELEMETRY_DB"); v != "" {
		c.Search.TelemetryDB = v
	}
	if v := os.Getenv("ATRIUM_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("ATRIUM_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("ATRIUM_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// resolvePaths makes relative directories absolute against dir.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Library.IndexRoot, &c.Library.PDFDir, &c.Uploads.Root, &c.Packs.DistPath, &c.Search.TelemetryDB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Library.IndexRoot == "" {
		return fmt.Errorf("library.index_root must be set")
	}
	if len(c.Library.Extensions) == 0 {
		return fmt.Errorf("library.extensions must not be empty")
	}
	for _, ext := range c.Library.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("library.extensions entries must start with '.', got %q", ext)
		}
	}

	if c.Chunking.ChunkWords <= 0 {
		return fmt.Errorf("chunking.chunk_words must be positive, got %d", c.Chunking.ChunkWords)
	}
	if c.Chunking.OverlapWords < 0 || c.Chunking.OverlapWords >= c.Chunking.ChunkWords {
		return fmt.Errorf("chunking.overlap_words must be in [0, chunk_words), got %d", c.Chunking.OverlapWords)
	}

	switch strings.ToLower(c.Search.BM25Backend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}
	if c.Search.Dimensions <= 0 {
		return fmt.Errorf("search.dimensions must be positive, got %d", c.Search.Dimensions)
	}

	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be positive, got %d", c.Jobs.MaxConcurrent)
	}
	for name, v := range map[string]string{
		"jobs.retention":         c.Jobs.Retention,
		"jobs.gc_interval":       c.Jobs.GCInterval,
		"packs.download_timeout": c.Packs.DownloadTimeout,
		"watch.debounce":         c.Watch.Debounce,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s must be a duration, got %q", name, v)
		}
	}

	if c.Uploads.MaxSizeMB <= 0 {
		return fmt.Errorf("uploads.max_size_mb must be positive, got %v", c.Uploads.MaxSizeMB)
	}
	if c.Uploads.RateLimitPerHour <= 0 {
		return fmt.Errorf("uploads.rate_limit_per_hour must be positive, got %d", c.Uploads.RateLimitPerHour)
	}
	if len(c.Packs.AllowedLicenses) == 0 {
		return fmt.Errorf("packs.allowed_licenses must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// Duration parses a validated duration field, falling back to def.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Uploads.MaxSizeMB * 1024 * 1024)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
