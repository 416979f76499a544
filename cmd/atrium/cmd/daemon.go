package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/daemon"
	"github.com/Aman-CERP/atrium/internal/logging"
	"github.com/Aman-CERP/atrium/internal/service"
)

func newDaemonCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background job daemon",
		Long: `The daemon owns one index root and its job registry, so a build
started from one terminal can be watched or cancelled from another.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status

Examples:
  atrium daemon start      # Start daemon in background
  atrium daemon start -f   # Run in foreground (for debugging)
  atrium daemon status     # Check if daemon is running
  atrium daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd(st))
	cmd.AddCommand(newDaemonStopCmd(st))
	cmd.AddCommand(newDaemonStatusCmd(st))
	return cmd
}

func newDaemonStartCmd(st *state) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the daemon for the index root of this project.

Running jobs are cancelled on shutdown and given the grace period to
reach a checkpoint. Use --foreground for debugging or to see logs.`,
		Annotations: map[string]string{logsToStderr: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if foreground {
				return st.runDaemonForeground(cmd)
			}
			return st.runDaemonBackground(cmd)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func (st *state) runDaemonForeground(cmd *cobra.Command) error {
	out := st.out(cmd)
	cfg := st.daemonConfig()

	svc, err := service.New(cmd.Context(), service.Options{
		Config:     st.cfg,
		Logger:     st.logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(cmd.Context())) }()

	d, err := daemon.New(cfg, svc, st.logger)
	if err != nil {
		return err
	}

	out.Status("", "Starting daemon in foreground...")
	out.Field("Socket", 10, cfg.SocketPath)
	out.Field("Index", 10, st.cfg.Library.IndexRoot)
	out.Field("Logs", 10, logging.DefaultLogPath())
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	if err := d.Run(cmd.Context()); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			out.Warning(err.Error())
			return nil
		}
		return err
	}
	return nil
}

// runDaemonBackground re-executes the binary with --foreground in a new
// session and waits until the socket answers.
func (st *state) runDaemonBackground(cmd *cobra.Command) error {
	out := st.out(cmd)
	client := daemon.NewClient(st.daemonConfig())
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	dir, err := filepath.Abs(st.dir)
	if err != nil {
		return err
	}
	args := []string{"daemon", "start", "--foreground", "--dir", dir}
	if st.debug {
		args = append(args, "--debug")
	}
	bg := exec.Command(execPath, args...)
	bg.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice early exits.
	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()

	for range 50 {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return errors.New("daemon process exited unexpectedly with code 0")
		case <-time.After(100 * time.Millisecond):
		}
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bg.Process.Pid)
			return nil
		}
	}
	return errors.New("daemon failed to start within timeout")
}

func newDaemonStopCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Ask the daemon to shut down over its socket. If it does not answer,
SIGTERM is sent to the process in the PID file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.runDaemonStop(cmd)
		},
	}
}

func (st *state) runDaemonStop(cmd *cobra.Command) error {
	out := st.out(cmd)
	cfg := st.daemonConfig()
	client := daemon.NewClient(cfg)
	pidFile := daemon.NewPIDFile(cfg.PIDPath)

	if !client.IsRunning() && !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	if err := client.Shutdown(cmd.Context()); err != nil {
		st.logger.Warn("daemon_shutdown_request_failed", slog.String("error", err.Error()))
		if err := pidFile.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
	}

	wait := cfg.ShutdownGracePeriod + 5*time.Second
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !client.IsRunning() && !pidFile.IsRunning() {
			out.Success("Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	out.Warning("Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	out.Success("Daemon killed")
	return nil
}

func newDaemonStatusCmd(st *state) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := st.out(cmd)
			cfg := st.daemonConfig()
			client := daemon.NewClient(cfg)

			if !client.IsRunning() {
				if jsonOutput {
					return out.JSON(daemon.StatusResult{Running: false})
				}
				out.Status("", "Daemon is not running")
				out.Status("", "Run 'atrium daemon start' to start it")
				return nil
			}

			status, err := client.Status(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if jsonOutput {
				return out.JSON(status)
			}

			out.Success("Daemon is running")
			out.Field("PID", 12, status.PID)
			out.Field("Uptime", 12, status.Uptime)
			out.Field("Socket", 12, cfg.SocketPath)
			if lib := status.Library; lib != nil {
				out.Field("Index root", 12, lib.IndexRoot)
				out.Field("Books", 12, len(lib.BookCounts))
				out.Field("Active jobs", 12, lib.ActiveJobs)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
