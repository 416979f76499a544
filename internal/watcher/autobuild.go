package watcher

import (
	"context"
	"log/slog"
	"time"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// BuildFunc starts a build and returns its job id.
type BuildFunc func(ctx context.Context) (string, error)

// AutoBuilder starts one build per batch of changes. A batch that arrives
// while the index root is busy is remembered and retried, so changes made
// during a running build are picked up by a later one.
type AutoBuilder struct {
	build  BuildFunc
	logger *slog.Logger
	retry  time.Duration

	// OnBuild, when set, is called with each started job id.
	OnBuild func(jobID string, batch []FileEvent)
}

// NewAutoBuilder creates an AutoBuilder that retries busy builds every 5s.
func NewAutoBuilder(build BuildFunc, logger *slog.Logger) *AutoBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoBuilder{build: build, logger: logger, retry: 5 * time.Second}
}

// WithRetry sets the delay before a busy build is retried.
func (a *AutoBuilder) WithRetry(d time.Duration) *AutoBuilder {
	if d > 0 {
		a.retry = d
	}
	return a
}

// Run consumes batches until ctx is done or batches is closed.
func (a *AutoBuilder) Run(ctx context.Context, batches <-chan []FileEvent) error {
	var (
		pending []FileEvent
		retry   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			pending = append(pending, batch...)
		case <-retry:
			retry = nil
		}
		if len(pending) == 0 || retry != nil {
			continue
		}

		id, err := a.build(ctx)
		switch {
		case err == nil:
			a.logger.Info("watch_build_started",
				slog.String("job_id", id),
				slog.Int("changes", len(pending)))
			if a.OnBuild != nil {
				a.OnBuild(id, pending)
			}
			pending = nil
		case aerrors.IsConflict(err):
			a.logger.Info("watch_build_deferred", slog.Duration("retry_in", a.retry))
			retry = time.After(a.retry)
		default:
			// An empty directory after deletions is not worth retrying.
			a.logger.Warn("watch_build_failed", slog.String("error", err.Error()))
			pending = nil
		}
	}
}
