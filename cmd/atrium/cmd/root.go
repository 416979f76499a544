// Package cmd provides the CLI commands for Atrium.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/config"
	"github.com/Aman-CERP/atrium/internal/daemon"
	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/logging"
	"github.com/Aman-CERP/atrium/internal/output"
	"github.com/Aman-CERP/atrium/internal/profiling"
	"github.com/Aman-CERP/atrium/internal/ui"
	"github.com/Aman-CERP/atrium/pkg/version"
)

// logsToStderr marks commands that run in the foreground and also log to
// stderr. Other commands log to the file only.
const logsToStderr = "logs-to-stderr"

// state is shared by the subcommands of one invocation.
type state struct {
	dir     string
	debug   bool
	plain   bool
	noColor bool
	local   bool
	profile profiling.Options

	cfg      *config.Config
	logger   *slog.Logger
	cleanup  func()
	profiler *profiling.Session
}

// NewRootCmd creates the root command for the atrium CLI.
func NewRootCmd() *cobra.Command {
	st := &state{}

	cmd := &cobra.Command{
		Use:   "atrium",
		Short: "Build and serve a searchable library of textbooks",
		Long: `Atrium ingests PDFs and text files into an index root, keeps the
library registry, chunk store and search index consistent, and serves
them over HTTP, MCP and a local daemon.

Long operations (build, repair, upload, pack install) run as jobs. When
the daemon is running for the same index root, commands go through it
so jobs can be followed or cancelled from any terminal.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: st.setup,
		PersistentPostRun: func(*cobra.Command, []string) { st.teardown() },
	}
	cmd.SetVersionTemplate("atrium version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&st.dir, "dir", "C", ".", "Project directory holding .atrium.yaml")
	cmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug logging to ~/.atrium/logs/")
	cmd.PersistentFlags().BoolVar(&st.plain, "plain", false, "Plain line output, no TUI")
	cmd.PersistentFlags().BoolVar(&st.noColor, "no-color", false, "Disable colors")
	cmd.PersistentFlags().BoolVar(&st.local, "local", false, "Run in this process even if the daemon is running")
	cmd.PersistentFlags().StringVar(&st.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&st.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&st.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newInitCmd(st))
	cmd.AddCommand(newStatusCmd(st))
	cmd.AddCommand(newBuildCmd(st))
	cmd.AddCommand(newRepairCmd(st))
	cmd.AddCommand(newUploadCmd(st))
	cmd.AddCommand(newPackCmd(st))
	cmd.AddCommand(newJobsCmd(st))
	cmd.AddCommand(newSearchCmd(st))
	cmd.AddCommand(newStatsCmd(st))
	cmd.AddCommand(newDaemonCmd(st))
	cmd.AddCommand(newServeCmd(st))
	cmd.AddCommand(newMCPCmd(st))
	cmd.AddCommand(newWatchCmd(st))
	cmd.AddCommand(newDoctorCmd(st))
	cmd.AddCommand(newLogsCmd(st))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure to stderr. SIGINT
// and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, aerrors.FormatForCLI(err))
	}
	return err
}

// setup loads the configuration and installs the logger.
func (st *state) setup(cmd *cobra.Command, _ []string) error {
	dir, err := filepath.Abs(st.dir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	st.dir = dir
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	st.cfg = cfg

	level := cfg.Server.LogLevel
	if st.debug {
		level = "debug"
	}
	logCfg := logging.QuietConfig(level)
	if _, ok := cmd.Annotations[logsToStderr]; ok {
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	st.logger, st.cleanup = logger, cleanup
	slog.SetDefault(logger)
	logger.Debug("cli_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("index_root", cfg.Library.IndexRoot))

	if st.profile.Enabled() {
		st.profiler, err = profiling.Start(st.profile, logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (st *state) teardown() {
	if err := st.profiler.Stop(); err != nil && st.logger != nil {
		st.logger.Warn("profiling_stop_failed", slog.String("error", err.Error()))
	}
	st.profiler = nil
	if st.cleanup != nil {
		st.cleanup()
		st.cleanup = nil
	}
}

// daemonConfig honours server.socket_path.
func (st *state) daemonConfig() daemon.Config {
	return daemon.DefaultConfig().WithSocket(st.cfg.Server.SocketPath)
}

func (st *state) uiConfig(cmd *cobra.Command) ui.Config {
	return ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(st.plain), ui.WithNoColor(st.noColor || ui.DetectNoColor()))
}

func (st *state) out(cmd *cobra.Command) *output.Writer {
	if st.noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()) {
		return output.New(cmd.OutOrStdout())
	}
	return output.NewColored(cmd.OutOrStdout())
}
