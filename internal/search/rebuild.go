package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/atrium/internal/embed"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

const bm25BatchSize = 500

// Options configures a Rebuilder.
type Options struct {
	Backend    store.BM25Backend
	Dimensions int
	CacheSize  int
	Logger     *slog.Logger
}

// Rebuilder regenerates the search directory from the chunk store. Artifacts
// are built in a temp directory next to search/ and swapped in only when
// every artifact and the manifest were written. Concurrent rebuilds in one
// process run one at a time.
type Rebuilder struct {
	mu sync.Mutex

	layout   library.Layout
	chunks   *store.ChunkStore
	embedder embed.Embedder
	backend  store.BM25Backend
	logger   *slog.Logger
	now      func() time.Time
}

// NewRebuilder returns a Rebuilder over layout.
func NewRebuilder(layout library.Layout, opts Options) *Rebuilder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == "" {
		opts.Backend = store.BM25BackendSQLite
	}
	return &Rebuilder{
		layout:   layout,
		chunks:   store.NewChunkStore(layout),
		embedder: embed.NewCachedEmbedder(embed.NewStaticEmbedder(opts.Dimensions), opts.CacheSize),
		backend:  opts.Backend,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Backend returns the BM25 backend the rebuilder writes.
func (r *Rebuilder) Backend() store.BM25Backend { return r.backend }

// Rebuild regenerates the artifacts for bookIDs.
func (r *Rebuilder) Rebuild(ctx context.Context, bookIDs []string) error {
	_, err := r.Build(ctx, bookIDs)
	return err
}

// Build regenerates the artifacts for bookIDs and returns the new manifest.
// On failure the previous search directory is left as it was.
func (r *Rebuilder) Build(ctx context.Context, bookIDs []string) (*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	ids := slices.Clone(bookIDs)
	slices.Sort(ids)

	if err := os.MkdirAll(r.layout.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	tmp, err := os.MkdirTemp(r.layout.Root, ".search-*"+library.TmpSuffix)
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	var bm25Count, vecCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.buildBM25(gctx, tmp, ids)
		bm25Count.Store(int64(n))
		return err
	})
	g.Go(func() error {
		n, err := r.buildVectors(gctx, tmp, ids)
		vecCount.Store(int64(n))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bm25Count.Load() != vecCount.Load() {
		return nil, fmt.Errorf("artifact chunk counts differ: bm25=%d vectors=%d", bm25Count.Load(), vecCount.Load())
	}

	m := &Manifest{
		BuiltAt:    r.now().UTC(),
		ChunkCount: int(bm25Count.Load()),
		BookIDs:    ids,
		Backend:    string(r.backend),
		Dimensions: r.embedder.Dimensions(),
		Embedder:   r.embedder.ModelName(),
	}
	if m.BookIDs == nil {
		m.BookIDs = []string{}
	}
	if err := library.WriteJSONAtomic(filepath.Join(tmp, ManifestFile), m); err != nil {
		return nil, err
	}

	if err := r.swap(tmp); err != nil {
		return nil, err
	}

	r.logger.Info("search_index_rebuilt",
		slog.Int("books", len(ids)),
		slog.Int("chunks", m.ChunkCount),
		slog.String("backend", m.Backend),
		slog.Duration("elapsed", time.Since(start)))
	return m, nil
}

func (r *Rebuilder) buildBM25(ctx context.Context, dir string, ids []string) (int, error) {
	idx, err := store.CreateBM25Index(dir, r.backend, store.DefaultBM25Config())
	if err != nil {
		return 0, fmt.Errorf("open bm25 index: %w", err)
	}

	total := 0
	batch := make([]*store.Document, 0, bm25BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Index(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, id := range ids {
		err := r.chunks.Each(id, func(c store.Chunk) error {
			batch = append(batch, &store.Document{ID: c.ChunkID, Content: c.Text})
			if len(batch) >= bm25BatchSize {
				return flush()
			}
			return ctx.Err()
		})
		if err != nil {
			_ = idx.Close()
			return 0, fmt.Errorf("index book %s: %w", id, err)
		}
	}
	if err := flush(); err != nil {
		_ = idx.Close()
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	if err := idx.Close(); err != nil {
		return 0, fmt.Errorf("close bm25 index: %w", err)
	}
	return total, nil
}

func (r *Rebuilder) buildVectors(ctx context.Context, dir string, ids []string) (int, error) {
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(r.embedder.Dimensions()))
	if err != nil {
		return 0, err
	}
	defer vs.Close()

	var batchIDs, batchTexts []string
	flush := func() error {
		if len(batchIDs) == 0 {
			return nil
		}
		vecs, err := r.embedder.EmbedBatch(ctx, batchTexts)
		if err != nil {
			return err
		}
		if err := vs.Add(ctx, batchIDs, vecs); err != nil {
			return err
		}
		batchIDs, batchTexts = batchIDs[:0], batchTexts[:0]
		return nil
	}

	for _, id := range ids {
		err := r.chunks.Each(id, func(c store.Chunk) error {
			batchIDs = append(batchIDs, c.ChunkID)
			batchTexts = append(batchTexts, c.Text)
			if len(batchIDs) >= embed.DefaultBatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("embed book %s: %w", id, err)
		}
	}
	if err := flush(); err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if err := vs.Save(filepath.Join(dir, store.VectorsFile)); err != nil {
		return 0, err
	}
	return vs.Count(), nil
}

// swap moves staged into place as search/. The previous directory is parked
// under a .tmp name and restored if the final rename fails.
func (r *Rebuilder) swap(staged string) error {
	target := r.layout.SearchPath()
	parked := target + ".old" + library.TmpSuffix
	_ = os.RemoveAll(parked)

	hadOld := true
	if err := os.Rename(target, parked); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("park previous search dir: %w", err)
		}
		hadOld = false
	}

	if err := os.Rename(staged, target); err != nil {
		if hadOld {
			_ = os.Rename(parked, target)
		}
		return fmt.Errorf("install search dir: %w", err)
	}
	if hadOld {
		_ = os.RemoveAll(parked)
	}
	return nil
}
