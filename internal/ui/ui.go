// Package ui renders library status and job progress in the terminal.
//
// Interactive terminals get lipgloss styling and a bubbletea job view;
// pipes, CI runs and --plain get line-oriented output.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Config configures the renderers.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// NewConfig creates a Config for output. NO_COLOR disables colors.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, NoColor: DetectNoColor()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Interactive reports whether the rich renderers should be used.
func (c Config) Interactive() bool {
	return !c.ForcePlain && IsTTY(c.Output) && !DetectCI()
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
