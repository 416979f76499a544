package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/internal/config"
	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/output"
	"github.com/Aman-CERP/atrium/internal/service"
	"github.com/Aman-CERP/atrium/internal/watcher"
)

func newWatchCmd(st *state) *cobra.Command {
	var (
		debounce string
		initial  bool
		poll     bool
	)

	cmd := &cobra.Command{
		Use:   "watch [pdf-dir]",
		Short: "Build whenever source files change",
		Long: `Watch the source directory and start a build after files are added,
changed or removed. Changes are debounced (watch.debounce, default 2s)
so that copying many files produces one build. A batch that arrives
while the index root is busy is retried.`,
		Annotations: map[string]string{logsToStderr: "true"},
		Args:        cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := st.cfg.Library.PDFDir
			if len(args) == 1 {
				dir = args[0]
			}
			if debounce == "" {
				debounce = st.cfg.Watch.Debounce
			}
			opts := watcher.Options{
				DebounceWindow: config.Duration(debounce, 2*time.Second),
				Filter:         sourceFilter(st.cfg.Library.Extensions),
				PollOnly:       poll,
			}
			return st.withBackend(cmd, func(ctx context.Context, b backend) error {
				return st.runWatch(ctx, cmd, b, dir, opts, initial)
			})
		},
	}

	cmd.Flags().StringVar(&debounce, "debounce", "", "Quiet period before a build (default: watch.debounce)")
	cmd.Flags().BoolVar(&initial, "initial", true, "Build once at startup")
	cmd.Flags().BoolVar(&poll, "poll", false, "Poll instead of using filesystem notifications")
	return cmd
}

// sourceFilter accepts files with a configured extension the extractors
// support.
func sourceFilter(extensions []string) func(string) bool {
	return func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		return index.IsSupported(name) && slices.ContainsFunc(extensions, func(e string) bool {
			return strings.EqualFold(e, ext)
		})
	}
}

func (st *state) runWatch(ctx context.Context, cmd *cobra.Command, b backend, dir string, opts watcher.Options, initial bool) error {
	out := st.out(cmd)
	w, err := watcher.NewDirWatcher(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx, dir) }()

	build := func(ctx context.Context) (string, error) {
		return b.Build(ctx, service.BuildRequest{PDFDir: dir})
	}
	auto := watcher.NewAutoBuilder(build, st.logger)
	auto.OnBuild = func(id string, batch []watcher.FileEvent) {
		out.Statusf("", "build %s started for %d change(s)", id, len(batch))
		go st.reportWhenDone(ctx, out, b, id)
	}

	if initial {
		if id, err := build(ctx); err == nil {
			out.Statusf("", "initial build %s started", id)
			go st.reportWhenDone(ctx, out, b, id)
		} else {
			out.Warningf("initial build not started: %v", err)
		}
	}

	out.Successf("Watching %s (%s mode), Ctrl+C to stop", dir, w.Mode())
	go func() {
		for err := range w.Errors() {
			out.Warningf("watch error: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- auto.Run(ctx, w.Events()) }()

	var runErr error
	select {
	case runErr = <-startErr:
		if runErr == nil || ctx.Err() != nil {
			runErr = <-errCh
		}
	case runErr = <-errCh:
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (st *state) reportWhenDone(ctx context.Context, out *output.Writer, b backend, id string) {
	updates, err := b.Follow(ctx, id)
	if err != nil {
		return
	}
	for j := range updates {
		if j.Terminal() {
			out.JobResult(j)
			return
		}
	}
}
