package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// maxLineBytes bounds a single log line read by the viewer.
const maxLineBytes = 1024 * 1024

// Entry is one parsed JSON log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false when the line was not JSON; Raw is printed as is.
	Valid bool
}

// ViewerConfig selects and formats log entries.
type ViewerConfig struct {
	Level   string         // minimum level; empty shows everything
	Pattern *regexp.Regexp // matched against the raw line
	NoColor bool
}

// Viewer tails and follows the JSON log file written by Setup.
type Viewer struct {
	cfg    ViewerConfig
	out    io.Writer
	styles map[string]lipgloss.Style
}

// NewViewer creates a viewer that prints to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{
		cfg: cfg,
		out: out,
		styles: map[string]lipgloss.Style{
			"debug": lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
			"info":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
			"warn":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
			"error": lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
	}
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if n <= 0 {
		n = 50
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var entries []Entry
	for _, line := range ring {
		if e := ParseLine(line); v.Matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow reads lines appended to path after the call and passes matching
// entries to fn. It polls until ctx is done and then returns nil.
func (v *Viewer) Follow(ctx context.Context, path string, interval time.Duration, fn func(Entry)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	reader := bufio.NewReader(file)
	var partial strings.Builder
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := reader.ReadString('\n')
			partial.WriteString(chunk)
			if err != nil {
				// Keep an unterminated line until the writer finishes it.
				break
			}
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if line == "" {
				continue
			}
			if e := ParseLine(line); v.Matches(e) {
				fn(e)
			}
		}
	}
}

// Print writes entries one per line.
func (v *Viewer) Print(entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Matches applies the level and pattern filters.
func (v *Viewer) Matches(e Entry) bool {
	if v.cfg.Level != "" && e.Valid && LevelFromString(e.Level) < LevelFromString(v.cfg.Level) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Format renders an entry as "15:04:05.000 LEVEL msg key=value ...".
// Attributes are sorted by key.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}
	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if !v.cfg.NoColor {
		if style, ok := v.styles[strings.ToLower(e.Level)]; ok {
			level = style.Render(level)
		}
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

// ParseLine parses one slog JSON line. Lines that are not JSON come back
// with Valid false.
func ParseLine(line string) Entry {
	e := Entry{Raw: line}
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true
	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			e.Time = parsed
		}
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)
	delete(data, "time")
	delete(data, "level")
	delete(data, "msg")
	e.Attrs = data
	return e
}
