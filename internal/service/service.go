// Package service is the host API of an index root: status, build, repair,
// upload and pack install, plus access to the jobs they create. The HTTP
// server, the daemon and the MCP server are thin transports over it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/atrium/internal/config"
	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/extract"
	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/store"
	"github.com/Aman-CERP/atrium/internal/telemetry"
)

const (
	verifyCacheTTL  = 3 * time.Second
	verifyCacheSize = 16
)

// Options configures a Service.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Registerer receives the job metrics. Nil skips registration.
	Registerer prometheus.Registerer

	// Mirror overrides the redis mirror built from jobs.redis_url.
	Mirror jobs.Mirror

	// HTTPClient is used for pack downloads.
	HTTPClient *http.Client

	// Extractor overrides the default PDF and text extractors.
	Extractor extract.Extractor

	// TelemetryStore overrides the store opened from search.telemetry_db.
	TelemetryStore telemetry.Store
}

// Service wires the index root components together.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	layout    library.Layout
	meta      *library.Store
	chunks    *store.ChunkStore
	lock      *library.RootLock
	backend   store.BM25Backend
	rebuilder *search.Rebuilder
	builder   *index.Builder
	checker   *index.Checker
	repairer  *index.Repairer
	resolver  *packs.Resolver
	installer *packs.Installer

	jobs    *jobs.Manager
	limiter *rateLimiter
	verify  *expirable.LRU[string, *index.ConsistencyReport]

	mirror    *jobs.RedisMirror
	telemetry *telemetry.QueryMetrics
	stopGC    context.CancelFunc
}

// New creates a Service for the configured index root. When
// jobs.redis_url is set and reachable, job snapshots are mirrored there.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := store.ParseBM25Backend(cfg.Search.BM25Backend)
	if err != nil {
		return nil, aerrors.ConfigError("invalid search.bm25_backend", err)
	}

	layout := library.NewLayout(cfg.Library.IndexRoot)
	meta := library.NewStore(layout)
	chunks := store.NewChunkStore(layout)
	rebuilder := search.NewRebuilder(layout, search.Options{
		Backend:    backend,
		Dimensions: cfg.Search.Dimensions,
		CacheSize:  cfg.Search.EmbedCacheSize,
		Logger:     logger,
	})
	extractor := opts.Extractor
	if extractor == nil {
		extractor = extract.Default()
	}
	builder := index.NewBuilder(meta, chunks, extractor,
		extract.NewWordChunker(cfg.Chunking.ChunkWords, cfg.Chunking.OverlapWords), rebuilder, logger)
	checker := index.NewChecker(meta, chunks, backend)
	lock := library.NewRootLock(layout)

	fetcher := packs.NewFetcher(httpClient(opts.HTTPClient, cfg), aerrors.DefaultRetryConfig())

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		layout:    layout,
		meta:      meta,
		chunks:    chunks,
		lock:      lock,
		backend:   backend,
		rebuilder: rebuilder,
		builder:   builder,
		checker:   checker,
		repairer:  index.NewRepairer(meta, chunks, checker, builder, logger),
		resolver:  packs.NewResolver(cfg.Packs.DistPath, "", fetcher).WithLicensePolicy(cfg.Packs.AllowedLicenses),
		installer: packs.NewInstaller(builder, lock, fetcher, layout, logger),
		limiter:   newRateLimiter(cfg.Uploads.RateLimitPerHour, time.Hour),
		verify:    expirable.NewLRU[string, *index.ConsistencyReport](verifyCacheSize, nil, verifyCacheTTL),
	}

	retention := config.Duration(cfg.Jobs.Retention, jobs.DefaultRetention)
	mirror := opts.Mirror
	if mirror == nil && cfg.Jobs.RedisURL != "" {
		rm, err := jobs.DialRedisMirror(ctx, cfg.Jobs.RedisURL, retention)
		if err != nil {
			logger.Warn("job_mirror_disabled", slog.String("error", err.Error()))
		} else {
			s.mirror, mirror = rm, rm
		}
	}

	s.jobs = jobs.NewManager(jobs.Options{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Retention:     retention,
		Metrics:       jobs.NewMetrics(opts.Registerer),
		Mirror:        mirror,
		Logger:        logger,
	})
	s.jobs.Register(jobs.TypeBuild, s.prepareBuild)
	s.jobs.Register(jobs.TypeRepair, s.prepareRepair)
	s.jobs.Register(jobs.TypeUpload, s.prepareUpload)
	s.jobs.Register(jobs.TypePackInstall, s.preparePackInstall)

	tstore := opts.TelemetryStore
	if tstore == nil && cfg.Search.TelemetryDB != "" {
		ts, err := telemetry.OpenSQLiteStore(cfg.Search.TelemetryDB)
		if err != nil {
			logger.Warn("telemetry_store_disabled", slog.String("error", err.Error()))
		} else {
			tstore = ts
		}
	}
	s.telemetry = telemetry.New(tstore, telemetry.DefaultConfig(), logger)

	gcCtx, stop := context.WithCancel(context.Background())
	s.stopGC = stop
	s.jobs.StartGC(gcCtx, config.Duration(cfg.Jobs.GCInterval, 5*time.Minute))
	return s, nil
}

func httpClient(c *http.Client, cfg *config.Config) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: config.Duration(cfg.Packs.DownloadTimeout, 2*time.Minute)}
}

// Close cancels running jobs and waits for them until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.stopGC()
	err := s.jobs.Shutdown(ctx)
	if s.mirror != nil {
		err = errors.Join(err, s.mirror.Close())
	}
	return errors.Join(err, s.telemetry.Close())
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Layout returns the index root layout.
func (s *Service) Layout() library.Layout { return s.layout }

// BookCount is one row of Status.BookCounts.
type BookCount struct {
	Book         string             `json:"book"`
	Chunks       int                `json:"chunks"`
	BookID       string             `json:"book_id"`
	Status       library.BookStatus `json:"status"`
	PackID       string             `json:"pack_id,omitempty"`
	SupersededBy []string           `json:"superseded_by,omitempty"`
}

// Status describes an index root.
type Status struct {
	IndexRoot   string                   `json:"index_root"`
	IndexExists bool                     `json:"index_exists"`
	IndexReady  bool                     `json:"index_ready"`
	ChunkCount  int                      `json:"chunk_count"`
	BookCounts  []BookCount              `json:"book_counts"`
	Revision    string                   `json:"revision,omitempty"`
	ActiveJobs  int                      `json:"active_jobs"`
	Consistency *index.ConsistencyReport `json:"consistency,omitempty"`
}

// Status reports the books of the index root and, when withConsistency is
// set, a consistency report cached for a few seconds while library.json
// and books/ are unchanged.
func (s *Service) Status(ctx context.Context, withConsistency bool) (*Status, error) {
	st := &Status{
		IndexRoot:   s.layout.Root,
		IndexExists: s.layout.Exists(),
		BookCounts:  []BookCount{},
		ActiveJobs:  s.jobs.Active(),
	}
	lib, err := s.meta.Load()
	if err != nil {
		return nil, err
	}
	if lib != nil {
		st.Revision = lib.Revision()
		st.ChunkCount = lib.ReadyChunkCount()
		for _, b := range lib.Books {
			st.BookCounts = append(st.BookCounts, BookCount{
				Book:         b.DisplayTitle(),
				Chunks:       b.ChunkCount,
				BookID:       b.BookID,
				Status:       b.Status,
				PackID:       b.PackID,
				SupersededBy: b.SupersededBy,
			})
		}
	}
	if st.IndexExists {
		ready, err := s.checker.QuickCheck(ctx)
		if err != nil {
			return nil, err
		}
		st.IndexReady = ready
	}
	if withConsistency {
		report, err := s.cachedVerify(ctx)
		if err != nil {
			return nil, err
		}
		st.Consistency = report
	}
	return st, nil
}

// Verify runs the consistency checker over the files as they are now and
// refreshes the report Status reuses.
func (s *Service) Verify(ctx context.Context) (*index.ConsistencyReport, error) {
	key := s.verifyKey()
	report, err := s.checker.Verify(ctx)
	if err != nil {
		return nil, err
	}
	s.verify.Add(key, report)
	return report, nil
}

// cachedVerify reuses a report for a few seconds while library.json and
// the book directories are unchanged.
func (s *Service) cachedVerify(ctx context.Context) (*index.ConsistencyReport, error) {
	if report, ok := s.verify.Get(s.verifyKey()); ok {
		return report, nil
	}
	return s.Verify(ctx)
}

func (s *Service) verifyKey() string {
	mtime := func(path string) int64 {
		if info, err := os.Stat(path); err == nil {
			return info.ModTime().UnixNano()
		}
		return 0
	}
	return fmt.Sprintf("%s|%d|%d", s.layout.Root, mtime(s.layout.LibraryPath()), mtime(s.layout.BooksPath()))
}

// invalidate drops cached consistency reports after a job changed the root.
func (s *Service) invalidate() { s.verify.Purge() }

// CheckFresh returns a stale ConflictError when revision names a
// library.json state that has since changed. An empty revision passes.
func (s *Service) CheckFresh(revision string) error {
	return s.meta.CheckRevision(revision)
}

// Search queries the search index.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	release, err := s.lock.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	sr, err := search.Open(s.layout)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	start := time.Now()
	hits, err := sr.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	books := make([]string, len(hits))
	for i, h := range hits {
		books[i] = h.Chunk.BookName
	}
	s.telemetry.Record(telemetry.QueryEvent{
		Query:       query,
		ResultCount: len(hits),
		Books:       books,
		Latency:     time.Since(start),
		Timestamp:   start,
	})
	return hits, nil
}

// SearchStats returns the query telemetry recorded by this process.
func (s *Service) SearchStats() *telemetry.Snapshot {
	return s.telemetry.Snapshot()
}
