package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/store"
)

// RepairOptions configures Repair.
type RepairOptions struct {
	Mode RepairMode

	// RebuildSearchIndex forces (true) or forbids (false) a search rebuild.
	// nil rebuilds when the repair changed state or the artifacts are
	// missing or stale.
	RebuildSearchIndex *bool

	// PruneTmp deletes leftover *.tmp files and staging directories.
	PruneTmp bool
}

// ParseRepairMode maps a request value to a mode. Empty means repair.
func ParseRepairMode(s string) (RepairMode, error) {
	switch RepairMode(s) {
	case "", ModeRepair:
		return ModeRepair, nil
	case ModeVerify:
		return ModeVerify, nil
	}
	return "", aerrors.ValidationError(fmt.Sprintf("unknown repair mode %q (valid options: verify, repair)", s), nil)
}

// Repairer rebuilds library.json from what is actually on disk under
// books/. book.json files and chunk files are the source of truth; the old
// library.json only contributes fields a lost book.json cannot restore.
type Repairer struct {
	meta    *library.Store
	chunks  *store.ChunkStore
	checker *Checker
	builder *Builder
	logger  *slog.Logger
}

// NewRepairer creates a Repairer. The builder supplies the search rebuild.
func NewRepairer(meta *library.Store, chunks *store.ChunkStore, checker *Checker, builder *Builder, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{meta: meta, chunks: chunks, checker: checker, builder: builder, logger: logger}
}

// scan is the outcome of reading books/ without writing anything.
type scan struct {
	report  *RepairReport
	books   []*library.Book
	rewrite []*library.Book // book.json mirrors to write in repair mode
	changed bool
	old     *library.Library
}

// Repair scans the index root and, in repair mode, rewrites library.json,
// prunes temp files and rebuilds the search index. Verify mode writes
// nothing and reports what a repair would do alongside the current
// consistency.
func (r *Repairer) Repair(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	start := time.Now()
	if opts.Mode == "" {
		opts.Mode = ModeRepair
	}

	s, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	report := s.report
	report.Mode = opts.Mode

	if opts.Mode == ModeVerify {
		report.Consistency, err = r.checker.Verify(ctx)
		if errors.Is(err, library.ErrCorrupt) {
			report.Consistency, err = r.checker.check(ctx, r.newLibrary(s))
		}
		if err != nil {
			return nil, err
		}
		report.ElapsedMS = time.Since(start).Milliseconds()
		return report, nil
	}

	if opts.PruneTmp {
		report.PrunedTmpCount = r.pruneTmp()
		if report.PrunedTmpCount > 0 {
			s.changed = true
		}
	}

	for _, b := range s.rewrite {
		if err := r.meta.WriteBook(b); err != nil {
			return nil, err
		}
	}
	lib := r.newLibrary(s)
	if err := r.meta.Save(lib); err != nil {
		return nil, err
	}
	report.RebuiltLibraryJSON = true
	report.RepairsChangedState = s.changed

	rebuild := s.changed
	if opts.RebuildSearchIndex != nil {
		rebuild = *opts.RebuildSearchIndex
	} else if !rebuild {
		pre := &ConsistencyReport{OK: true}
		r.checker.checkArtifacts(lib, pre)
		rebuild = !pre.OK
	}

	var rebuildErr error
	if rebuild {
		if rebuildErr = r.builder.RebuildSearch(ctx); rebuildErr == nil {
			report.RebuiltSearchIndex = true
		} else {
			r.logger.Warn("repair_rebuild_failed", slog.String("error", rebuildErr.Error()))
		}
	}

	report.Consistency, err = r.checker.Verify(ctx)
	if err != nil {
		return nil, err
	}
	if rebuildErr != nil {
		report.Consistency.add("", IssueSearchRebuildFailed, "search index rebuild failed: "+rebuildErr.Error())
	}

	report.ElapsedMS = time.Since(start).Milliseconds()
	r.logger.Info("repair_finished",
		slog.Int("scanned", report.ScannedBooks),
		slog.Int("repaired", len(report.RepairedBooks)),
		slog.Int("errors", len(report.ErrorBooks)),
		slog.Int("pruned_tmp", report.PrunedTmpCount),
		slog.Bool("rebuilt_search_index", report.RebuiltSearchIndex),
		slog.Bool("ok", report.Consistency.OK))
	return report, nil
}

func (r *Repairer) scan(ctx context.Context) (*scan, error) {
	s := &scan{report: &RepairReport{
		RepairedBooks: []RepairedBook{},
		ErrorBooks:    []ErrorBook{},
	}}

	old, err := r.meta.Load()
	if errors.Is(err, library.ErrCorrupt) {
		r.logger.Warn("library_json_corrupt", slog.String("error", err.Error()))
		s.changed = true
	} else if err != nil {
		return nil, err
	} else {
		s.old = old
	}
	prior := map[string]*library.Book{}
	if s.old != nil {
		for _, b := range s.old.Books {
			prior[b.BookID] = b
		}
	}

	ids, err := r.meta.Layout().BookIDs()
	if err != nil {
		return nil, aerrors.IOError("list book directories", err)
	}
	s.report.ScannedBooks = len(ids)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[id] = true
		r.scanBook(s, id, prior[id])
	}

	if s.old != nil {
		for _, b := range s.old.Books {
			if !seen[b.BookID] {
				s.report.ErrorBooks = append(s.report.ErrorBooks, ErrorBook{
					BookID: b.BookID,
					Issues: []string{"book directory missing"},
				})
				s.changed = true
			}
		}
	}

	library.InferSupersedes(s.books)
	return s, nil
}

func (r *Repairer) scanBook(s *scan, id string, prior *library.Book) {
	fail := func(issues ...string) {
		s.report.ErrorBooks = append(s.report.ErrorBooks, ErrorBook{BookID: id, Issues: issues})
		if prior != nil {
			s.changed = true
		}
	}

	n, exists, err := r.chunks.Count(id)
	if err != nil {
		fail("read chunks.jsonl: " + err.Error())
		return
	}
	bj, err := r.meta.ReadBook(id)
	if err != nil {
		fail("book.json unreadable: " + err.Error())
		return
	}

	if n == 0 {
		if bj == nil && prior == nil {
			// Leftovers of an ingest that never wrote metadata.
			return
		}
		if !exists {
			fail("chunks.jsonl missing")
		} else {
			fail("chunks.jsonl is empty")
		}
		return
	}

	var actions []string
	var rec library.Book
	switch {
	case bj == nil:
		rec = reconstruct(id, prior, r.meta.Now())
		actions = append(actions, ActionReconstructed)
	default:
		rec = *bj
		rec.BookID = id
		if prior == nil {
			actions = append(actions, ActionRegistered)
		}
		if bj.ChunkCount != n || (prior != nil && prior.ChunkCount != n) {
			actions = append(actions, ActionRecomputedCount)
		}
		switch {
		case bj.Status == library.StatusError || (prior != nil && prior.Status == library.StatusError):
			actions = append(actions, ActionClearedError)
		case bj.Status != library.StatusReady || (prior != nil && prior.Status != library.StatusReady):
			actions = append(actions, ActionRestoredReady)
		}
	}
	rec.ChunkCount = n
	rec.Status = library.StatusReady
	rec.ErrorMessage = ""

	book := &rec
	s.books = append(s.books, book)
	if len(actions) > 0 {
		s.report.RepairedBooks = append(s.report.RepairedBooks, RepairedBook{BookID: id, Actions: actions})
		s.rewrite = append(s.rewrite, book)
		s.changed = true
	}
}

// reconstruct rebuilds a lost book.json from the old registry entry when
// there is one. Book ids are content hashes, so sha256 is the id.
func reconstruct(id string, prior *library.Book, now time.Time) library.Book {
	rec := library.Book{BookID: id, SHA256: id, AddedAt: now, UpdatedAt: now}
	if prior != nil {
		rec.Filename = prior.Filename
		rec.Title = prior.Title
		rec.IngestMS = prior.IngestMS
		rec.PackID = prior.PackID
		rec.Supersedes = slices.Clone(prior.Supersedes)
		rec.SupersededBy = slices.Clone(prior.SupersededBy)
		if !prior.AddedAt.IsZero() {
			rec.AddedAt = prior.AddedAt
		}
		if !prior.UpdatedAt.IsZero() {
			rec.UpdatedAt = prior.UpdatedAt
		}
	}
	if rec.Filename == "" {
		rec.Filename = id + ".pdf"
	}
	if rec.Title == "" {
		rec.Title = strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
	}
	return rec
}

func (r *Repairer) newLibrary(s *scan) *library.Library {
	now := r.meta.Now()
	lib := library.NewLibrary(now)
	if s.old != nil {
		lib.CreatedAt = s.old.CreatedAt
		lib.AvgIngestMS = s.old.AvgIngestMS
	}
	lib.Books = append(lib.Books, s.books...)
	return lib
}

// pruneTmp removes every *.tmp file and directory under the root: write
// temps of interrupted atomic writes and search staging directories.
func (r *Repairer) pruneTmp() int {
	root := r.meta.Layout().Root
	pruned := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root || !strings.HasSuffix(d.Name(), library.TmpSuffix) {
			return nil
		}
		if rmErr := os.RemoveAll(path); rmErr != nil {
			r.logger.Warn("prune_tmp_failed", slog.String("path", path), slog.String("error", rmErr.Error()))
			return nil
		}
		pruned++
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	return pruned
}
