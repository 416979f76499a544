package preflight

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/atrium/internal/config"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Result is one named check outcome. Only a failed Required check stops a
// host from serving the index root.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

// Critical reports whether r is a required check that failed.
func (r Result) Critical() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name, msg string) Result { return Result{Name: name, Status: StatusPass, Message: msg} }
func warn(name, msg string) Result { return Result{Name: name, Status: StatusWarn, Message: msg} }
func fail(name, msg string) Result { return Result{Name: name, Status: StatusFail, Message: msg} }

func (r Result) required() Result {
	r.Required = true
	return r
}

func (r Result) detail(format string, args ...any) Result {
	r.Details = fmt.Sprintf(format, args...)
	return r
}

// Summary values of Report.Status.
const (
	SummaryReady    = "ready"
	SummaryWarnings = "ready_with_warnings"
	SummaryFailed   = "failed"
)

// Report is the outcome of a doctor run.
type Report struct {
	Status string   `json:"status"`
	Checks []Result `json:"checks"`
}

// NewReport summarizes results. A failed optional check counts as a
// warning.
func NewReport(results []Result) Report {
	rep := Report{Status: SummaryReady, Checks: results}
	for _, r := range results {
		switch {
		case r.Critical():
			rep.Status = SummaryFailed
			return rep
		case r.Status != StatusPass:
			rep.Status = SummaryWarnings
		}
	}
	return rep
}

// Failed reports whether any required check failed.
func (rep Report) Failed() bool { return rep.Status == SummaryFailed }

// Print writes the report as text. Details are shown only when verbose.
func (rep Report) Print(w io.Writer, verbose bool) {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

	p("Atrium Doctor\n=============\n\n")
	var problems, warnings []string
	for _, r := range rep.Checks {
		p("[%s] %s: %s\n", strings.ToUpper(string(r.Status)), r.Name, r.Message)
		if verbose && r.Details != "" {
			p("      %s\n", r.Details)
		}
		switch {
		case r.Critical():
			problems = append(problems, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	p("\nStatus: %s\n", strings.ToUpper(rep.Status))

	for _, group := range []struct {
		label string
		items []string
	}{{"error(s)", problems}, {"warning(s)", warnings}} {
		if len(group.items) == 0 {
			continue
		}
		p("\n%d %s:\n", len(group.items), group.label)
		for _, item := range group.items {
			p("  - %s\n", item)
		}
	}
}

// Checker runs the doctor checks.
type Checker struct {
	redisTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithRedisTimeout bounds the redis mirror ping.
func WithRedisTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.redisTimeout = d
		}
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{redisTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks cfg and the host. An invalid configuration ends the run after
// the config check because the paths it names cannot be trusted.
func (c *Checker) Run(ctx context.Context, cfg *config.Config) Report {
	first := c.CheckConfig(cfg)
	if first.Status == StatusFail {
		return NewReport([]Result{first})
	}

	root := cfg.Library.IndexRoot
	results := []Result{
		first,
		c.CheckWritePermissions(root),
		c.CheckDiskSpace(root),
		c.CheckFileDescriptors(),
		c.CheckLibrary(root),
		c.CheckLock(root),
		c.CheckSourceDir(cfg.Library.PDFDir),
	}
	if cfg.Jobs.RedisURL != "" {
		results = append(results, c.CheckRedis(ctx, cfg.Jobs.RedisURL))
	}
	return NewReport(results)
}

// CheckConfig validates cfg.
func (c *Checker) CheckConfig(cfg *config.Config) Result {
	if cfg == nil {
		return fail("config", "no configuration loaded").required()
	}
	if err := cfg.Validate(); err != nil {
		return fail("config", err.Error()).required()
	}
	return pass("config", "OK").required().detail("index_root %s", cfg.Library.IndexRoot)
}
