// Package index ingests source files into an index root and keeps the
// library registry, the chunk store and the search artifacts consistent.
//
// Builder adds books, Checker compares the three stores without writing,
// and Repairer rewrites metadata from what is actually on disk.
package index

import (
	"context"

	"github.com/Aman-CERP/atrium/internal/library"
)

// IndexRebuilder regenerates the derived search artifacts from the chunks
// of the given books.
type IndexRebuilder interface {
	Rebuild(ctx context.Context, bookIDs []string) error
}

// Skip reasons reported in BuildReport.Skipped.
const (
	SkipDuplicateHash = "duplicate_hash"
	SkipNoText        = "no_text"
	SkipUnsupported   = "unsupported"
)

// IngestEntry describes one book added by a build, upload or pack install.
type IngestEntry struct {
	BookID     string             `json:"book_id"`
	Filename   string             `json:"filename"`
	Title      string             `json:"title"`
	ChunkCount int                `json:"chunk_count"`
	IngestMS   int64              `json:"ingest_ms"`
	Status     library.BookStatus `json:"status"`

	// Duplicate is set when the file was already registered as ready and
	// nothing was written.
	Duplicate bool `json:"duplicate,omitempty"`
}

// SkipEntry is a file that was not ingested and is not an error.
type SkipEntry struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// FailEntry is a file whose ingestion failed.
type FailEntry struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BuildReport is the result of a build job.
type BuildReport struct {
	ElapsedMS          int64         `json:"elapsed_ms"`
	Built              bool          `json:"built"`
	Ingested           []IngestEntry `json:"ingested"`
	Skipped            []SkipEntry   `json:"skipped"`
	Failed             []FailEntry   `json:"failed"`
	RebuiltSearchIndex bool          `json:"rebuilt_search_index"`
	AvgIngestMS        int64         `json:"avg_ingest_ms"`
}

func newBuildReport() *BuildReport {
	return &BuildReport{
		Ingested: []IngestEntry{},
		Skipped:  []SkipEntry{},
		Failed:   []FailEntry{},
	}
}

// IssueKind classifies a consistency issue.
type IssueKind string

const (
	IssueChunkCountMismatch   IssueKind = "chunk_count_mismatch"
	IssueMissingIndexArtifact IssueKind = "missing_index_artifact"
	IssueOrphanedChunks       IssueKind = "orphaned_chunks"
	IssueMissingBookJSON      IssueKind = "missing_book_json"
	IssueMissingChunks        IssueKind = "missing_chunks"
	IssueSearchRebuildFailed  IssueKind = "search_rebuild_failed"
)

// Issue is one detected mismatch. BookID is empty for index-wide issues.
type Issue struct {
	BookID string    `json:"book_id"`
	Kind   IssueKind `json:"kind"`
	Detail string    `json:"detail"`
}

// ConsistencyReport is the outcome of Verify. It is computed on demand and
// never persisted.
type ConsistencyReport struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

func (r *ConsistencyReport) add(bookID string, kind IssueKind, detail string) {
	r.Issues = append(r.Issues, Issue{BookID: bookID, Kind: kind, Detail: detail})
	r.OK = false
}

// Has reports whether the report contains an issue of kind.
func (r *ConsistencyReport) Has(kind IssueKind) bool {
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

// RepairMode selects whether Repair writes.
type RepairMode string

const (
	ModeVerify RepairMode = "verify"
	ModeRepair RepairMode = "repair"
)

// Repair actions recorded in RepairedBook.Actions.
const (
	ActionReconstructed   = "reconstructed book.json"
	ActionRecomputedCount = "recomputed chunk_count"
	ActionClearedError    = "cleared error status"
	ActionRestoredReady   = "restored ready status"
	ActionRegistered      = "registered unlisted book"
)

// RepairedBook lists what Repair changed for one book.
type RepairedBook struct {
	BookID  string   `json:"book_id"`
	Actions []string `json:"actions"`
}

// ErrorBook is a book Repair could not recover. It is left out of the
// rewritten library.json.
type ErrorBook struct {
	BookID string   `json:"book_id"`
	Issues []string `json:"issues"`
}

// RepairReport is the result of a repair job.
type RepairReport struct {
	ElapsedMS           int64              `json:"elapsed_ms"`
	Mode                RepairMode         `json:"mode"`
	ScannedBooks        int                `json:"scanned_books"`
	RepairedBooks       []RepairedBook     `json:"repaired_books"`
	ErrorBooks          []ErrorBook        `json:"error_books"`
	PrunedTmpCount      int                `json:"pruned_tmp_count"`
	RebuiltLibraryJSON  bool               `json:"rebuilt_library_json"`
	RebuiltSearchIndex  bool               `json:"rebuilt_search_index"`
	RepairsChangedState bool               `json:"repairs_changed_state"`
	Consistency         *ConsistencyReport `json:"consistency"`
}
