package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/store"
)

// Checker compares library.json against the chunk store and the search
// artifacts. It never writes.
type Checker struct {
	meta    *library.Store
	chunks  *store.ChunkStore
	backend store.BM25Backend
}

// NewChecker creates a checker. backend is the BM25 artifact expected when
// the search manifest does not name one.
func NewChecker(meta *library.Store, chunks *store.ChunkStore, backend store.BM25Backend) *Checker {
	return &Checker{meta: meta, chunks: chunks, backend: backend}
}

// Verify checks the current library.json. A missing library is an empty,
// consistent index; a corrupt one is an error.
func (c *Checker) Verify(ctx context.Context) (*ConsistencyReport, error) {
	lib, err := c.meta.Load()
	if err != nil {
		return nil, err
	}
	if lib == nil {
		lib = library.NewLibrary(c.meta.Now())
	}
	return c.check(ctx, lib)
}

// check verifies lib, which may be a library that has not been written yet.
// This is O(total chunk lines) because every chunk file is counted.
func (c *Checker) check(ctx context.Context, lib *library.Library) (*ConsistencyReport, error) {
	report := &ConsistencyReport{OK: true, Issues: []Issue{}}
	layout := c.meta.Layout()

	registered := make(map[string]bool, len(lib.Books))
	for _, b := range lib.Books {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		registered[b.BookID] = true

		n, exists, err := c.chunks.Count(b.BookID)
		if err != nil {
			return nil, fmt.Errorf("count chunks for %s: %w", b.BookID, err)
		}
		ready := b.Status == library.StatusReady
		switch {
		case ready && !exists:
			report.add(b.BookID, IssueMissingChunks, "chunks.jsonl missing")
		case ready && n == 0:
			report.add(b.BookID, IssueMissingChunks, "chunks.jsonl is empty")
		case n != b.ChunkCount:
			report.add(b.BookID, IssueChunkCountMismatch,
				fmt.Sprintf("library has %d chunk(s), chunk store has %d", b.ChunkCount, n))
		}
		if ready {
			if _, err := os.Stat(layout.BookJSON(b.BookID)); err != nil {
				report.add(b.BookID, IssueMissingBookJSON, "book.json missing")
			}
		}
	}

	dirs, err := layout.BookIDs()
	if err != nil {
		return nil, fmt.Errorf("list book directories: %w", err)
	}
	for _, id := range dirs {
		if registered[id] {
			continue
		}
		n, _, err := c.chunks.Count(id)
		if err != nil {
			return nil, fmt.Errorf("count chunks for %s: %w", id, err)
		}
		if n > 0 {
			report.add(id, IssueOrphanedChunks, fmt.Sprintf("%d chunk(s) for a book missing from library.json", n))
		}
	}

	c.checkArtifacts(lib, report)
	return report, nil
}

// checkArtifacts requires a complete and current search directory as soon
// as one book is ready.
func (c *Checker) checkArtifacts(lib *library.Library, report *ConsistencyReport) {
	ready := lib.Ready()
	if len(ready) == 0 {
		return
	}
	layout := c.meta.Layout()

	missing := search.MissingArtifacts(layout, c.backend)
	for _, rel := range missing {
		report.add("", IssueMissingIndexArtifact, rel+" missing")
	}
	if len(missing) > 0 {
		return
	}

	m, err := search.ReadManifest(layout)
	if err != nil {
		report.add("", IssueMissingIndexArtifact, "search manifest unreadable: "+err.Error())
		return
	}
	ids := make([]string, len(ready))
	for i, b := range ready {
		ids[i] = b.BookID
	}
	if msg := m.Stale(ids, lib.ReadyChunkCount()); msg != "" {
		report.add("", IssueMissingIndexArtifact, "search index is stale: "+msg)
	}
}

// QuickCheck only compares the search manifest with library.json: the
// artifacts exist and cover exactly the ready books and their chunk total.
// It does not read chunk files.
func (c *Checker) QuickCheck(ctx context.Context) (bool, error) {
	lib, err := c.meta.Load()
	if err != nil || lib == nil {
		return false, err
	}
	report := &ConsistencyReport{OK: true}
	c.checkArtifacts(lib, report)
	if !report.OK {
		slog.Debug("search artifacts out of date", slog.Int("issues", len(report.Issues)))
	}
	return report.OK && len(lib.Ready()) > 0, nil
}
