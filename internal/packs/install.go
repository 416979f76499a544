package packs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/extract"
	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/library"
)

// Install phases.
const (
	PhaseDownloading = "downloading"
	PhaseExtracting  = "extracting"
	PhaseIngesting   = "ingesting"
	PhaseRebuilding  = "rebuilding"
	PhaseDone        = "done"
)

// Reporter receives progress and decides where installation may stop.
// *jobs.Runtime implements it.
type Reporter interface {
	Progress(phase, message string, current, total int)
	Checkpoint() error
}

// Ingester registers single books and rebuilds the search index.
// *index.Builder implements it.
type Ingester interface {
	BuildOne(ctx context.Context, path string, opts index.BuildOneOptions) (index.IngestEntry, error)
	RebuildSearch(ctx context.Context) error
}

// Locker hands out shared holds on the index root. *library.RootLock
// implements it.
type Locker interface {
	Shared(ctx context.Context) (release func(), err error)
}

// Installer installs resolved packs into an index root.
type Installer struct {
	ingester Ingester
	lock     Locker
	fetcher  *Fetcher
	layout   library.Layout
	logger   *slog.Logger
}

// NewInstaller creates an Installer.
func NewInstaller(ingester Ingester, lock Locker, fetcher *Fetcher, layout library.Layout, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{ingester: ingester, lock: lock, fetcher: fetcher, layout: layout, logger: logger}
}

// Install ingests every book of src in manifest order. A book that cannot
// be fetched or ingested is recorded as failed and the install goes on.
//
// Cancellation is only honored between books: each book is registered
// completely or not at all. When the install stops early, books already
// ingested stay registered and the search index is rebuilt for them before
// the checkpoint error is returned with the partial result.
func (in *Installer) Install(ctx context.Context, src *Source, rep Reporter) (*jobs.PackInstallResult, error) {
	m := src.Manifest
	total := len(m.Books)
	res := &jobs.PackInstallResult{
		PackID:   m.PackID,
		Ingested: []index.IngestEntry{},
		Skipped:  []index.SkipEntry{},
		Failed:   []index.FailEntry{},
	}

	if src.archive != "" {
		if err := rep.Checkpoint(); err != nil {
			return res, err
		}
		rep.Progress(PhaseExtracting, "Extracting pack...", 0, total)
		dir := filepath.Join(src.staging, "pack")
		if err := ExtractZip(src.archive, dir); err != nil {
			return res, err
		}
		src.dir, src.archive = dir, ""
	}

	var stopErr error
	for i, b := range m.Books {
		if err := rep.Checkpoint(); err != nil {
			stopErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		rep.Progress(PhaseDownloading, fmt.Sprintf("Downloading %s...", b.Title), i, total)
		path, err := in.source(ctx, src, b)
		if err != nil {
			if ctx.Err() != nil {
				stopErr = ctx.Err()
				break
			}
			in.logger.Warn("pack_book_fetch_failed",
				slog.String("pack_id", m.PackID),
				slog.String("file", b.SourceFile),
				slog.String("error", err.Error()))
			res.Failed = append(res.Failed, index.FailEntry{Filename: b.SourceFile, Error: userMessage(err)})
			continue
		}

		rep.Progress(PhaseIngesting, fmt.Sprintf("Ingesting %s...", b.Title), i, total)
		entry, err := in.ingest(ctx, path, m.PackID, b)
		switch {
		case err == nil && entry.Duplicate:
			res.Skipped = append(res.Skipped, index.SkipEntry{Filename: b.SourceFile, Reason: index.SkipDuplicateHash})
		case err == nil:
			res.Ingested = append(res.Ingested, entry)
		case aerrors.IsFatal(err) || ctx.Err() != nil:
			return res, err
		case extract.SkipReason(err) != "":
			res.Skipped = append(res.Skipped, index.SkipEntry{Filename: b.SourceFile, Reason: extract.SkipReason(err)})
		default:
			res.Failed = append(res.Failed, index.FailEntry{Filename: b.SourceFile, Error: userMessage(err)})
		}
		rep.Progress(PhaseIngesting, fmt.Sprintf("Ingested %s", b.Title), i+1, total)
	}

	if len(res.Ingested) > 0 {
		rep.Progress(PhaseRebuilding, "Rebuilding search index...", 0, total)
		if err := in.rebuild(ctx); err != nil {
			return res, errors.Join(stopErr, err)
		}
		res.RebuiltSearchIndex = true
	}
	if stopErr != nil {
		return res, stopErr
	}

	if err := in.installLicenses(src); err != nil {
		in.logger.Warn("pack_licenses_failed", slog.String("pack_id", m.PackID), slog.String("error", err.Error()))
	}
	rep.Progress(PhaseDone, fmt.Sprintf("Installed %d book(s)", len(res.Ingested)), total, total)
	in.logger.Info("pack_installed",
		slog.String("pack_id", m.PackID),
		slog.Int("ingested", len(res.Ingested)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}

// source returns a local path for the book: the pack's own copy when it
// ships one, otherwise a download of source_url.
func (in *Installer) source(ctx context.Context, src *Source, b Book) (string, error) {
	if src.dir != "" {
		for _, p := range []string{
			filepath.Join(src.dir, SourcesDir, b.SourceFile),
			filepath.Join(src.dir, b.SourceFile),
		} {
			if fileExists(p) {
				return p, nil
			}
		}
	}
	dest := filepath.Join(src.staging, "downloads", b.SourceFile)
	if err := in.fetcher.Download(ctx, b.SourceURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ingest registers one book under a shared hold on the index root so it
// never interleaves with a build or repair.
func (in *Installer) ingest(ctx context.Context, path, packID string, b Book) (index.IngestEntry, error) {
	release, err := in.lock.Shared(ctx)
	if err != nil {
		return index.IngestEntry{}, err
	}
	defer release()
	return in.ingester.BuildOne(ctx, path, index.BuildOneOptions{
		Title:    b.Title,
		Filename: b.SourceFile,
		PackID:   packID,
	})
}

func (in *Installer) rebuild(ctx context.Context) error {
	release, err := in.lock.Shared(ctx)
	if err != nil {
		return err
	}
	defer release()
	return in.ingester.RebuildSearch(ctx)
}

// installLicenses copies the pack's LICENSES files and manifest to
// packs/<pack_id>/. Packs without an attribution.json get one generated
// from the manifest.
func (in *Installer) installLicenses(src *Source) error {
	m := src.Manifest
	dst := in.layout.PackDir(m.PackID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if src.dir != "" {
		licenses := filepath.Join(src.dir, LicensesDir)
		err := filepath.WalkDir(licenses, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(licenses, path)
			if err != nil {
				return err
			}
			return library.CopyFileAtomic(path, filepath.Join(dst, rel))
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if !fileExists(filepath.Join(dst, AttributionFile)) {
		if err := library.WriteJSONAtomic(filepath.Join(dst, AttributionFile), m.Attribution()); err != nil {
			return err
		}
	}
	return library.WriteJSONAtomic(filepath.Join(dst, ManifestFile), m)
}

func userMessage(err error) string {
	if ae, ok := aerrors.As(err); ok {
		return ae.Message
	}
	return err.Error()
}
