package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/daemon"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/service"
	"github.com/Aman-CERP/atrium/internal/ui"
)

// backend runs library operations either in this process or through the
// daemon.
type backend interface {
	Status(ctx context.Context, consistency bool) (*service.Status, error)
	Build(ctx context.Context, req service.BuildRequest) (string, error)
	Repair(ctx context.Context, req service.RepairRequest) (string, error)
	Upload(ctx context.Context, path, title string) (string, error)
	PackInstall(ctx context.Context, req packs.Request) (string, error)
	Job(ctx context.Context, id string) (jobs.Job, error)
	Cancel(ctx context.Context, id string) error
	Jobs(ctx context.Context, filter jobs.Filter) ([]jobs.Job, error)
	Follow(ctx context.Context, id string) (<-chan jobs.Job, error)

	// Remote reports whether jobs outlive this process.
	Remote() bool
	Close(ctx context.Context) error
}

// backend returns the daemon when it serves the configured index root,
// and a local service otherwise.
func (st *state) backend(ctx context.Context) (backend, error) {
	if !st.local {
		client := daemon.NewClient(st.daemonConfig())
		if client.IsRunning() {
			res, err := client.Status(ctx, false)
			switch {
			case err != nil:
				st.logger.Warn("daemon_status_failed", slog.String("error", err.Error()))
			case res.Library != nil && sameDir(res.Library.IndexRoot, st.cfg.Library.IndexRoot):
				st.logger.Debug("cli_using_daemon", slog.Int("pid", res.PID))
				return &daemonBackend{client: client}, nil
			default:
				st.logger.Info("daemon_serves_other_root", slog.String("daemon_root", res.Library.IndexRoot))
			}
		}
	}
	svc, err := service.New(ctx, service.Options{Config: st.cfg, Logger: st.logger})
	if err != nil {
		return nil, err
	}
	return &localBackend{svc: svc}, nil
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

type localBackend struct {
	svc *service.Service
}

func (b *localBackend) Status(ctx context.Context, consistency bool) (*service.Status, error) {
	return b.svc.Status(ctx, consistency)
}

func (b *localBackend) Build(ctx context.Context, req service.BuildRequest) (string, error) {
	return b.svc.Build(ctx, req)
}

func (b *localBackend) Repair(ctx context.Context, req service.RepairRequest) (string, error) {
	return b.svc.Repair(ctx, req)
}

func (b *localBackend) Upload(ctx context.Context, path, title string) (string, error) {
	return b.svc.Upload(ctx, service.UploadRequest{Path: path, DisplayTitle: title, Owner: "cli"})
}

func (b *localBackend) PackInstall(ctx context.Context, req packs.Request) (string, error) {
	return b.svc.PackInstall(ctx, req)
}

func (b *localBackend) Job(ctx context.Context, id string) (jobs.Job, error) {
	return b.svc.Job(ctx, id)
}

func (b *localBackend) Cancel(ctx context.Context, id string) error {
	return b.svc.Cancel(ctx, id)
}

func (b *localBackend) Jobs(ctx context.Context, filter jobs.Filter) ([]jobs.Job, error) {
	return b.svc.Jobs(ctx, filter), nil
}

func (b *localBackend) Follow(ctx context.Context, id string) (<-chan jobs.Job, error) {
	return b.svc.Stream(ctx, id)
}

func (b *localBackend) Remote() bool { return false }

func (b *localBackend) Close(ctx context.Context) error { return b.svc.Close(ctx) }

type daemonBackend struct {
	client *daemon.Client
}

func (b *daemonBackend) Status(ctx context.Context, consistency bool) (*service.Status, error) {
	res, err := b.client.Status(ctx, consistency)
	if err != nil {
		return nil, err
	}
	if res.Library == nil {
		return nil, errors.New("daemon returned no library status")
	}
	return res.Library, nil
}

func (b *daemonBackend) Build(ctx context.Context, req service.BuildRequest) (string, error) {
	if req.PDFDir != "" {
		abs, err := filepath.Abs(req.PDFDir)
		if err != nil {
			return "", err
		}
		req.PDFDir = abs
	}
	return b.client.Build(ctx, req)
}

func (b *daemonBackend) Repair(ctx context.Context, req service.RepairRequest) (string, error) {
	return b.client.Repair(ctx, req)
}

// Upload passes an absolute path; the daemon reads the file itself.
func (b *daemonBackend) Upload(ctx context.Context, path, title string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return b.client.Upload(ctx, daemon.UploadParams{Path: abs, DisplayTitle: title, Owner: "cli"})
}

func (b *daemonBackend) PackInstall(ctx context.Context, req packs.Request) (string, error) {
	return b.client.PackInstall(ctx, req)
}

func (b *daemonBackend) Job(ctx context.Context, id string) (jobs.Job, error) {
	return b.client.Job(ctx, id)
}

func (b *daemonBackend) Cancel(ctx context.Context, id string) error {
	_, err := b.client.Cancel(ctx, id)
	return err
}

func (b *daemonBackend) Jobs(ctx context.Context, filter jobs.Filter) ([]jobs.Job, error) {
	return b.client.Jobs(ctx, daemon.JobListParams{Type: string(filter.Type), Status: string(filter.Status)})
}

// Follow starts with the current snapshot so that an unknown id fails
// before anything is rendered.
func (b *daemonBackend) Follow(ctx context.Context, id string) (<-chan jobs.Job, error) {
	first, err := b.client.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	ch := make(chan jobs.Job, 16)
	ch <- first
	if first.Terminal() {
		close(ch)
		return ch, nil
	}
	go func() {
		defer close(ch)
		_, err := b.client.Stream(ctx, id, func(j jobs.Job) {
			select {
			case ch <- j:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("job_stream_failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}()
	return ch, nil
}

func (b *daemonBackend) Remote() bool { return true }

func (b *daemonBackend) Close(context.Context) error { return nil }

// withBackend opens a backend, runs fn and closes the backend.
func (st *state) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := st.backend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			st.logger.Warn("backend_close_failed", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, b)
}

// localCancelWait bounds how long an interrupted local job may take to
// reach a checkpoint.
const localCancelWait = 30 * time.Second

// follow renders a job until it is terminal and prints its summary. With
// detach and a daemon, it only prints the job id. A local job cannot
// outlive the process, so leaving the view cancels it and waits.
func (st *state) follow(cmd *cobra.Command, ctx context.Context, b backend, id string, detach bool) error {
	out := st.out(cmd)
	if detach && b.Remote() {
		out.Successf("Started job %s", id)
		out.Status("", "Follow it with: atrium jobs watch "+id)
		return nil
	}
	if detach {
		out.Warning("--detach needs the daemon; following the job instead")
	}

	updates, err := b.Follow(ctx, id)
	if err != nil {
		return err
	}
	cancel := func() {
		if err := b.Cancel(context.WithoutCancel(ctx), id); err != nil {
			st.logger.Warn("job_cancel_failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}
	job, err := ui.NewJobView(st.uiConfig(cmd), cancel).Run(ctx, updates)
	switch {
	case err == nil:
	case b.Remote() && errors.Is(err, ui.ErrDetached):
		out.Status("", fmt.Sprintf("Job %s keeps running in the daemon", id))
		return nil
	case b.Remote():
		return err
	case errors.Is(err, ui.ErrDetached) || ctx.Err() != nil:
		out.Warningf("Cancelling job %s", id)
		if job, err = st.cancelAndWait(ctx, b, id); err != nil {
			return err
		}
	default:
		return err
	}

	out.JobResult(job)
	return jobError(job)
}

func (st *state) cancelAndWait(ctx context.Context, b backend, id string) (jobs.Job, error) {
	waitCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), localCancelWait)
	defer stop()
	if err := b.Cancel(waitCtx, id); err != nil {
		return jobs.Job{}, err
	}
	updates, err := b.Follow(waitCtx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	var last jobs.Job
	for j := range updates {
		last = j
		if j.Terminal() {
			return j, nil
		}
	}
	return last, fmt.Errorf("job %s did not stop within %s", id, localCancelWait)
}

// jobError turns a failed or cancelled job into a non-zero exit.
func jobError(j jobs.Job) error {
	switch j.Status {
	case jobs.StatusFailed:
		return fmt.Errorf("job %s failed", j.ID)
	case jobs.StatusCancelled:
		return fmt.Errorf("job %s cancelled", j.ID)
	}
	return nil
}

// withLocal runs fn against a service in this process. Used by read-only
// commands the daemon does not expose.
func (st *state) withLocal(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := service.New(ctx, service.Options{Config: st.cfg, Logger: st.logger})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, svc)
}
