package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/extract"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

// Ingest phases reported through BuildOneOptions.OnPhase.
const (
	PhaseExtracting = "extracting"
	PhaseChunking   = "chunking"
	PhaseIndexing   = "indexing"
)

// SupportedExtensions are the source file types a build picks up.
var SupportedExtensions = []string{".pdf", ".txt", ".md"}

// ProgressFunc receives build progress: files handled so far, the total and
// a short message.
type ProgressFunc func(current, total int, message string)

// BuildOptions configures Build.
type BuildOptions struct {
	// Checkpoint is called before each file. A non-nil error stops the
	// build after the files already handled.
	Checkpoint func() error

	Progress ProgressFunc
}

// BuildOneOptions configures BuildOne.
type BuildOneOptions struct {
	// Title overrides the display title (default: the filename stem).
	Title string

	// Filename overrides the recorded filename (default: the base name of
	// the path). Uploads stage files under a job directory.
	Filename string

	// PackID records the pack the book was installed from.
	PackID string

	// OnPhase is called before each phase. A non-nil error cancels the
	// ingest and nothing is registered.
	OnPhase func(phase string) error
}

// Builder ingests source files into an index root.
type Builder struct {
	meta      *library.Store
	chunks    *store.ChunkStore
	extractor extract.Extractor
	chunker   extract.Chunker
	rebuilder IndexRebuilder
	logger    *slog.Logger

	// Uploads and pack installs share the root lock, so two ingests of the
	// same content can overlap. Each book id admits one ingest at a time.
	bookLocks *xsync.MapOf[string, *sync.Mutex]
}

// NewBuilder creates a Builder.
func NewBuilder(meta *library.Store, chunks *store.ChunkStore, extractor extract.Extractor,
	chunker extract.Chunker, rebuilder IndexRebuilder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		meta:      meta,
		chunks:    chunks,
		extractor: extractor,
		chunker:   chunker,
		rebuilder: rebuilder,
		logger:    logger,
		bookLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// lockBook holds id's ingest lock until the returned func is called.
func (b *Builder) lockBook(id string) func() {
	mu, _ := b.bookLocks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// Build ingests every supported file in pdfDir that is not already a ready
// book, then rebuilds the search index if anything was added. Per-file
// failures are recorded in the report. A library.json write failure or a
// checkpoint error ends the build and is returned with the partial report.
func (b *Builder) Build(ctx context.Context, pdfDir string, opts BuildOptions) (*BuildReport, error) {
	start := time.Now()
	report := newBuildReport()

	files, err := EligibleFiles(pdfDir)
	if err != nil {
		return report, err
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}

	var stopErr error
	for i, path := range files {
		if opts.Checkpoint != nil {
			if err := opts.Checkpoint(); err != nil {
				stopErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		name := filepath.Base(path)
		progress(i, len(files), "Ingesting "+name)

		if err := b.buildFile(ctx, path, report); err != nil {
			stopErr = err
			break
		}
	}

	if n := len(report.Ingested); n > 0 {
		var total int64
		for _, e := range report.Ingested {
			total += e.IngestMS
		}
		report.AvgIngestMS = total / int64(n)
		report.Built = true

		// Books already registered are searchable even if the build stopped.
		progress(len(files), len(files), "Rebuilding search index")
		if err := b.RebuildSearch(ctx); err != nil {
			report.ElapsedMS = time.Since(start).Milliseconds()
			return report, errors.Join(stopErr, err)
		}
		report.RebuiltSearchIndex = true
		if err := b.meta.Update(func(lib *library.Library) error {
			lib.AvgIngestMS = report.AvgIngestMS
			return nil
		}); err != nil {
			stopErr = errors.Join(stopErr, err)
		}
	}

	report.ElapsedMS = time.Since(start).Milliseconds()
	if stopErr == nil {
		progress(len(files), len(files), fmt.Sprintf("Ingested %d book(s)", len(report.Ingested)))
	}
	b.logger.Info("build_finished",
		slog.String("pdf_dir", pdfDir),
		slog.Int("ingested", len(report.Ingested)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
		slog.Bool("rebuilt_search_index", report.RebuiltSearchIndex),
		slog.Int64("elapsed_ms", report.ElapsedMS))
	return report, stopErr
}

// buildFile handles one file of a build. Only fatal errors are returned.
func (b *Builder) buildFile(ctx context.Context, path string, report *BuildReport) error {
	name := filepath.Base(path)

	id, err := library.HashFile(path)
	if err != nil {
		report.Failed = append(report.Failed, FailEntry{Filename: name, Error: err.Error()})
		return nil
	}

	defer b.lockBook(id)()

	duplicate := false
	err = b.meta.Update(func(lib *library.Library) error {
		if existing := lib.Find(id); existing != nil && existing.Status == library.StatusReady {
			duplicate = true
			return errSkipWrite
		}
		now := b.meta.Now()
		rec := lib.Find(id)
		if rec == nil {
			rec = &library.Book{BookID: id, Filename: name, SHA256: id, AddedAt: now}
			lib.Upsert(rec)
		}
		rec.Filename = name
		rec.Status = library.StatusProcessing
		rec.UpdatedAt = now
		rec.ChunkCount = 0
		rec.ErrorMessage = ""
		return nil
	})
	if duplicate {
		report.Skipped = append(report.Skipped, SkipEntry{Filename: name, Reason: SkipDuplicateHash})
		return nil
	}
	if err != nil {
		return err
	}

	entry, err := b.ingest(ctx, path, id, BuildOneOptions{})
	if err == nil {
		report.Ingested = append(report.Ingested, entry)
		return nil
	}
	if aerrors.IsFatal(err) {
		return err
	}
	if ctx.Err() != nil {
		_ = b.meta.Update(func(lib *library.Library) error {
			lib.Remove(id)
			return nil
		})
		return ctx.Err()
	}

	if reason := extract.SkipReason(err); reason != "" {
		report.Skipped = append(report.Skipped, SkipEntry{Filename: name, Reason: reason})
		return b.meta.Update(func(lib *library.Library) error {
			lib.Remove(id)
			return nil
		})
	}

	b.logger.Warn("ingest_failed", slog.String("file", name), slog.String("error", err.Error()))
	report.Failed = append(report.Failed, FailEntry{Filename: name, Error: err.Error()})
	return b.meta.Update(func(lib *library.Library) error {
		if rec := lib.Find(id); rec != nil {
			rec.Status = library.StatusError
			rec.ErrorMessage = err.Error()
			rec.UpdatedAt = b.meta.Now()
		}
		return nil
	})
}

// BuildOne ingests a single file and registers it as a ready book. On any
// error, including a cancelled phase, the book's files are removed and
// library.json is left untouched. A file that is already a ready book is
// returned with Duplicate set. Concurrent calls for the same content run
// one after the other, so the later one sees the first as a duplicate.
func (b *Builder) BuildOne(ctx context.Context, path string, opts BuildOneOptions) (IngestEntry, error) {
	id, err := library.HashFile(path)
	if err != nil {
		return IngestEntry{}, aerrors.ExtractionError("read source", err).WithDetail("file", filepath.Base(path))
	}
	defer b.lockBook(id)()

	lib, err := b.meta.Load()
	if err != nil {
		return IngestEntry{}, err
	}
	if lib != nil {
		if existing := lib.Find(id); existing != nil && existing.Status == library.StatusReady {
			return IngestEntry{
				BookID:     id,
				Filename:   existing.Filename,
				Title:      existing.DisplayTitle(),
				ChunkCount: existing.ChunkCount,
				IngestMS:   existing.IngestMS,
				Status:     existing.Status,
				Duplicate:  true,
			}, nil
		}
	}
	return b.ingest(ctx, path, id, opts)
}

// ingest runs extract, chunk and commit for one file. A failed ingest
// removes the book directory so no chunks outlive it.
func (b *Builder) ingest(ctx context.Context, path, id string, opts BuildOneOptions) (entry IngestEntry, err error) {
	start := time.Now()
	filename := opts.Filename
	if filename == "" {
		filename = filepath.Base(path)
	}
	title := opts.Title
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	phase := func(name string) error {
		if opts.OnPhase == nil {
			return nil
		}
		return opts.OnPhase(name)
	}

	committed := false
	defer func() {
		if err != nil && !committed {
			if rmErr := os.RemoveAll(b.meta.Layout().BookDir(id)); rmErr != nil {
				b.logger.Warn("cleanup_failed", slog.String("book_id", id), slog.String("error", rmErr.Error()))
			}
		}
	}()

	if err := phase(PhaseExtracting); err != nil {
		return IngestEntry{}, err
	}
	pages, err := b.extractor.Extract(ctx, path)
	if err != nil {
		return IngestEntry{}, err
	}

	if err := phase(PhaseChunking); err != nil {
		return IngestEntry{}, err
	}
	chunks, err := b.chunker.Chunk(ctx, title, pages)
	if err != nil {
		return IngestEntry{}, aerrors.New(aerrors.ErrCodeChunkingFailed, "chunk "+filename, err)
	}
	if len(chunks) == 0 {
		return IngestEntry{}, extract.ErrNoText(path)
	}

	if err := phase(PhaseIndexing); err != nil {
		return IngestEntry{}, err
	}
	if err := b.chunks.Write(id, chunks); err != nil {
		return IngestEntry{}, aerrors.IOError("write chunks", err).WithDetail("book_id", id)
	}
	layout := b.meta.Layout()
	if err := library.CopyFileAtomic(path, layout.SourcePath(id, filepath.Ext(filename))); err != nil {
		return IngestEntry{}, aerrors.IOError("copy source", err).WithDetail("book_id", id)
	}

	book, err := b.commit(id, filename, title, len(chunks), opts.PackID, time.Since(start))
	if err != nil {
		return IngestEntry{}, err
	}
	committed = true

	b.logger.Info("book_ingested",
		slog.String("book_id", id),
		slog.String("file", filename),
		slog.Int("chunks", book.ChunkCount),
		slog.Int64("ingest_ms", book.IngestMS))
	return IngestEntry{
		BookID:     id,
		Filename:   filename,
		Title:      title,
		ChunkCount: book.ChunkCount,
		IngestMS:   book.IngestMS,
		Status:     book.Status,
	}, nil
}

// commit registers the book as ready in library.json and mirrors it and any
// edition it supersedes to book.json.
func (b *Builder) commit(id, filename, title string, chunkCount int, packID string, elapsed time.Duration) (*library.Book, error) {
	now := b.meta.Now()
	book := &library.Book{
		BookID:     id,
		Filename:   filename,
		Title:      title,
		SHA256:     id,
		AddedAt:    now,
		UpdatedAt:  now,
		ChunkCount: chunkCount,
		Status:     library.StatusReady,
		IngestMS:   elapsed.Milliseconds(),
		PackID:     packID,
	}

	var touched []*library.Book
	err := b.meta.Update(func(lib *library.Library) error {
		if old := lib.Find(id); old != nil && !old.AddedAt.IsZero() {
			book.AddedAt = old.AddedAt
		}
		lib.Upsert(book)
		lib.Supersede(book)
		for _, other := range book.Supersedes {
			if ob := lib.Find(other); ob != nil {
				cp := *ob
				touched = append(touched, &cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := b.meta.WriteBook(book); err != nil {
		// library.json already lists the book; a missing mirror is
		// reported by Verify and rebuilt by Repair.
		b.logger.Warn("book_json_write_failed", slog.String("book_id", id), slog.String("error", err.Error()))
	}
	for _, ob := range touched {
		if err := b.meta.WriteBook(ob); err != nil {
			b.logger.Warn("book_json_write_failed", slog.String("book_id", ob.BookID), slog.String("error", err.Error()))
		}
	}
	return book, nil
}

// RebuildSearch regenerates the search index over every ready book.
func (b *Builder) RebuildSearch(ctx context.Context) error {
	lib, err := b.meta.Load()
	if err != nil {
		return err
	}
	var ids []string
	if lib != nil {
		for _, book := range lib.Ready() {
			ids = append(ids, book.BookID)
		}
	}
	if err := b.rebuilder.Rebuild(ctx, ids); err != nil {
		return aerrors.New(aerrors.ErrCodeIndexFailed, "rebuild search index", err)
	}
	return nil
}

// EligibleFiles lists the supported source files directly inside dir,
// sorted by name. A missing directory or one without source files is a
// validation error.
func EligibleFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, aerrors.ValidationError("pdf_dir is required", nil)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, aerrors.New(aerrors.ErrCodeInvalidPath, "read pdf_dir", err).WithDetail("pdf_dir", dir)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, library.TmpSuffix) {
			continue
		}
		if IsSupported(name) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	if len(files) == 0 {
		return nil, aerrors.ValidationError("no source files found", nil).
			WithDetail("pdf_dir", dir).
			WithSuggestion("Add .pdf, .txt or .md files to the directory")
	}
	sort.Strings(files)
	return files, nil
}

// IsSupported reports whether name has a supported source extension.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// errSkipWrite aborts a library update without writing.
var errSkipWrite = errors.New("skip write")
