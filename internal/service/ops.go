package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/library"
	"github.com/Aman-CERP/atrium/internal/packs"
)

// Upload phases, in order.
const (
	PhaseUploading  = "uploading"
	PhaseFinalizing = "finalizing"

	uploadPhases = 5
)

var uploadPhaseIndex = map[string]int{
	index.PhaseExtracting: 2,
	index.PhaseChunking:   3,
	index.PhaseIndexing:   4,
}

// BuildRequest is the payload of a build job.
type BuildRequest struct {
	// PDFDir overrides library.pdf_dir.
	PDFDir string `json:"pdf_dir,omitempty"`
}

// RepairRequest is the payload of a repair job.
type RepairRequest struct {
	Mode               string `json:"mode,omitempty"`
	RebuildSearchIndex *bool  `json:"rebuild_search_index,omitempty"`
	PruneTmp           bool   `json:"prune_tmp,omitempty"`
}

// UploadRequest is the payload of an upload job. Either Path or Reader is
// set; with a Reader, Filename names the upload.
type UploadRequest struct {
	Path         string
	Reader       io.Reader
	Filename     string
	DisplayTitle string
	Owner        string
}

// Build starts a build job over dir, or library.pdf_dir when dir is empty.
// It fails with a busy ConflictError while a build or repair holds the
// index root.
func (s *Service) Build(ctx context.Context, req BuildRequest) (string, error) {
	return s.jobs.Create(ctx, jobs.TypeBuild, req)
}

// Repair starts a repair job.
func (s *Service) Repair(ctx context.Context, req RepairRequest) (string, error) {
	return s.jobs.Create(ctx, jobs.TypeRepair, req)
}

// Upload validates and stages a file, then starts an upload job.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (string, error) {
	return s.jobs.Create(ctx, jobs.TypeUpload, req)
}

// PackInstall resolves and validates a pack, then starts an install job.
func (s *Service) PackInstall(ctx context.Context, req packs.Request) (string, error) {
	return s.jobs.Create(ctx, jobs.TypePackInstall, req)
}

// ValidatePack resolves a pack and returns its manifest without installing.
func (s *Service) ValidatePack(ctx context.Context, req packs.Request) (*packs.Manifest, error) {
	src, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Manifest, nil
}

// Job returns a job snapshot.
func (s *Service) Job(ctx context.Context, id string) (jobs.Job, error) {
	return s.jobs.Get(ctx, id)
}

// Stream follows a job until it is terminal.
func (s *Service) Stream(ctx context.Context, id string) (<-chan jobs.Job, error) {
	return s.jobs.Stream(ctx, id)
}

// Cancel requests cancellation of a job.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.jobs.Cancel(ctx, id)
}

// Jobs lists the jobs known to this process.
func (s *Service) Jobs(_ context.Context, filter jobs.Filter) []jobs.Job {
	return s.jobs.List(filter)
}

func (s *Service) prepareBuild(_ context.Context, _ string, payload any) (*jobs.Work, error) {
	req, ok := payload.(BuildRequest)
	if !ok {
		return nil, aerrors.InternalError(fmt.Sprintf("build payload is %T", payload), nil)
	}
	dir := req.PDFDir
	if dir == "" {
		dir = s.cfg.Library.PDFDir
	}
	if dir == "" {
		return nil, aerrors.ValidationError("pdf_dir is required", nil)
	}
	if _, err := index.EligibleFiles(dir); err != nil {
		return nil, err
	}

	release, err := s.lock.TryExclusive()
	if err != nil {
		return nil, err
	}
	return &jobs.Work{
		Release: func() {
			release()
			s.invalidate()
		},
		Run: func(ctx context.Context, rt *jobs.Runtime) (jobs.Result, error) {
			rt.Phase("ingesting", "Scanning "+dir)
			report, err := s.builder.Build(ctx, dir, index.BuildOptions{
				Checkpoint: rt.Checkpoint,
				Progress: func(current, total int, message string) {
					rt.Progress("ingesting", message, current, total)
				},
			})
			if err == nil {
				rt.Phase("done", fmt.Sprintf("Ingested %d file(s)", len(report.Ingested)))
			}
			return jobs.Result{Build: report}, err
		},
	}, nil
}

func (s *Service) prepareRepair(_ context.Context, _ string, payload any) (*jobs.Work, error) {
	req, ok := payload.(RepairRequest)
	if !ok {
		return nil, aerrors.InternalError(fmt.Sprintf("repair payload is %T", payload), nil)
	}
	mode, err := index.ParseRepairMode(req.Mode)
	if err != nil {
		return nil, err
	}
	opts := index.RepairOptions{Mode: mode, RebuildSearchIndex: req.RebuildSearchIndex, PruneTmp: req.PruneTmp}

	release := func() {}
	if mode == index.ModeRepair {
		release, err = s.lock.TryExclusive()
		if err != nil {
			return nil, err
		}
	}
	return &jobs.Work{
		Release: func() {
			release()
			s.invalidate()
		},
		Run: func(ctx context.Context, rt *jobs.Runtime) (jobs.Result, error) {
			rt.Phase(string(mode), "Scanning books")
			report, err := s.repairer.Repair(ctx, opts)
			if err == nil {
				rt.Phase("done", repairMessage(report))
			}
			return jobs.Result{Repair: report}, err
		},
	}, nil
}

func repairMessage(r *index.RepairReport) string {
	if r.Consistency != nil && r.Consistency.OK {
		return fmt.Sprintf("Repaired %d book(s), index consistent", len(r.RepairedBooks))
	}
	return fmt.Sprintf("Repaired %d book(s), issues remain", len(r.RepairedBooks))
}

func (s *Service) prepareUpload(_ context.Context, jobID string, payload any) (*jobs.Work, error) {
	req, ok := payload.(UploadRequest)
	if !ok {
		return nil, aerrors.InternalError(fmt.Sprintf("upload payload is %T", payload), nil)
	}
	name := req.Filename
	if name == "" {
		name = filepath.Base(req.Path)
	}
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, aerrors.ValidationError("upload filename is required", nil)
	}
	if !s.allowedExtension(name) {
		return nil, aerrors.ValidationError(fmt.Sprintf("file type %q is not allowed", filepath.Ext(name)), nil).
			WithDetail("allowed", strings.Join(s.cfg.Library.Extensions, ", "))
	}
	undo, ok := s.limiter.Reserve(req.Owner)
	if !ok {
		return nil, aerrors.New(aerrors.ErrCodeRateLimited,
			fmt.Sprintf("upload limit of %d per hour reached", s.cfg.Uploads.RateLimitPerHour), nil).
			WithDetail("owner", ownerKey(req.Owner))
	}

	staged, err := s.stageUpload(jobID, name, req)
	if err != nil {
		undo()
		_ = os.RemoveAll(filepath.Dir(staged))
		return nil, err
	}

	title := req.DisplayTitle
	return &jobs.Work{
		Release: func() {
			if err := os.RemoveAll(filepath.Dir(staged)); err != nil {
				s.logger.Warn("upload_cleanup_failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
			}
			s.invalidate()
		},
		Run: func(ctx context.Context, rt *jobs.Runtime) (jobs.Result, error) {
			return s.runUpload(ctx, rt, staged, name, title)
		},
	}, nil
}

func (s *Service) allowedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := s.cfg.Library.Extensions
	if len(allowed) == 0 {
		allowed = index.SupportedExtensions
	}
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return index.IsSupported(name)
		}
	}
	return false
}

// stageUpload copies the upload to uploads_root/<jobID>/<name>, refusing
// anything larger than the configured maximum.
func (s *Service) stageUpload(jobID, name string, req UploadRequest) (string, error) {
	limit := s.cfg.MaxUploadBytes()
	dest := filepath.Join(s.cfg.Uploads.Root, jobID, name)

	src := req.Reader
	if src == nil {
		info, err := os.Stat(req.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return dest, aerrors.ValidationError(fmt.Sprintf("file %s does not exist", req.Path), err)
			}
			return dest, aerrors.IOError("stat upload", err)
		}
		if !info.Mode().IsRegular() {
			return dest, aerrors.ValidationError(fmt.Sprintf("%s is not a regular file", req.Path), nil)
		}
		if info.Size() > limit {
			return dest, tooLarge(s.cfg.Uploads.MaxSizeMB)
		}
		f, err := os.Open(req.Path)
		if err != nil {
			return dest, aerrors.IOError("open upload", err)
		}
		defer f.Close()
		src = f
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return dest, aerrors.IOError("create upload staging dir", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return dest, aerrors.IOError("create staged upload", err)
	}
	n, err := io.Copy(out, io.LimitReader(src, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return dest, aerrors.IOError("stage upload", err)
	}
	if n > limit {
		return dest, tooLarge(s.cfg.Uploads.MaxSizeMB)
	}
	if n == 0 {
		return dest, aerrors.ValidationError("uploaded file is empty", nil)
	}
	return dest, nil
}

func tooLarge(mb float64) error {
	return aerrors.ValidationError(fmt.Sprintf("file exceeds the %g MB upload limit", mb), nil)
}

func (s *Service) runUpload(ctx context.Context, rt *jobs.Runtime, path, filename, title string) (jobs.Result, error) {
	rt.Progress(PhaseUploading, "Received "+filename, 1, uploadPhases)

	entry, err := s.ingestUpload(ctx, rt, path, filename, title)
	if err != nil {
		return jobs.Result{}, err
	}
	res := &jobs.UploadResult{
		BookID:       entry.BookID,
		DisplayTitle: entry.Title,
		ChunkCount:   entry.ChunkCount,
		Duplicate:    entry.Duplicate,
	}
	if !entry.Duplicate {
		// The book is committed, so a late cancel is not honored: the
		// search index must cover it before the job ends.
		rt.Progress(PhaseFinalizing, "Rebuilding search index...", uploadPhases, uploadPhases)
		if err := s.rebuildShared(ctx); err != nil {
			return jobs.Result{Upload: res}, err
		}
	}
	rt.Progress(PhaseFinalizing, "Indexed "+entry.Title, uploadPhases, uploadPhases)
	return jobs.Result{Upload: res}, nil
}

func (s *Service) ingestUpload(ctx context.Context, rt *jobs.Runtime, path, filename, title string) (index.IngestEntry, error) {
	release, err := s.lock.Shared(ctx)
	if err != nil {
		return index.IngestEntry{}, err
	}
	defer release()
	return s.builder.BuildOne(ctx, path, index.BuildOneOptions{
		Title:    title,
		Filename: filename,
		OnPhase: func(phase string) error {
			if err := rt.Checkpoint(); err != nil {
				return err
			}
			rt.Progress(phase, phaseMessage(phase, filename), uploadPhaseIndex[phase], uploadPhases)
			return nil
		},
	})
}

func phaseMessage(phase, filename string) string {
	switch phase {
	case index.PhaseExtracting:
		return "Extracting text from " + filename
	case index.PhaseChunking:
		return "Chunking " + filename
	default:
		return "Indexing " + filename
	}
}

func (s *Service) rebuildShared(ctx context.Context) error {
	release, err := s.lock.Shared(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.builder.RebuildSearch(ctx)
}

func (s *Service) preparePackInstall(ctx context.Context, _ string, payload any) (*jobs.Work, error) {
	req, ok := payload.(packs.Request)
	if !ok {
		return nil, aerrors.InternalError(fmt.Sprintf("pack_install payload is %T", payload), nil)
	}
	src, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &jobs.Work{
		Release: func() {
			src.Close()
			s.invalidate()
		},
		Run: func(ctx context.Context, rt *jobs.Runtime) (jobs.Result, error) {
			rt.Phase(packs.PhaseDownloading, "Installing "+src.Title)
			res, err := s.installer.Install(ctx, src, rt)
			return jobs.Result{PackInstall: res}, err
		},
	}, nil
}

// Books returns the registered books.
func (s *Service) Books() ([]*library.Book, error) {
	lib, err := s.meta.Load()
	if err != nil || lib == nil {
		return nil, err
	}
	return lib.Books, nil
}
