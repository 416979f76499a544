package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/atrium/internal/service"
)

// Daemon ties a Service to the socket server and the PID file.
type Daemon struct {
	cfg    Config
	svc    *service.Service
	server *Server
	pid    *PIDFile
	logger *slog.Logger
}

// New creates a daemon serving svc.
func New(cfg Config, svc *service.Service, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		cfg:    cfg,
		svc:    svc,
		server: NewServer(cfg.SocketPath, svc, logger),
		pid:    NewPIDFile(cfg.PIDPath),
		logger: logger,
	}, nil
}

// Run serves until ctx is done or a client sends shutdown. Running jobs
// are then cancelled and given the grace period to stop.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pid.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.pid.Release(); err != nil {
			d.logger.Warn("daemon_pidfile_release_failed", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.server.OnShutdown(cancel)

	d.logger.Info("daemon_started",
		slog.String("socket", d.cfg.SocketPath),
		slog.String("index_root", d.svc.Layout().Root))
	err := d.server.ListenAndServe(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), d.cfg.ShutdownGracePeriod)
	defer stop()
	if cerr := d.svc.Close(shutdownCtx); cerr != nil {
		d.logger.Warn("daemon_jobs_unfinished", slog.String("error", cerr.Error()))
	}
	d.logger.Info("daemon_stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
