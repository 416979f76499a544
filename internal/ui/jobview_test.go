package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/jobs"
)

func snapshots() []jobs.Job {
	base := jobs.Job{ID: "j1", Type: jobs.TypeBuild}
	queued := base
	queued.Status = jobs.StatusQueued
	running := base
	running.Status, running.Phase, running.Message = jobs.StatusRunning, "ingest", "Biology"
	running.Progress = jobs.Progress{Current: 1, Total: 3}
	done := base
	done.Status, done.Phase, done.Message = jobs.StatusCompleted, "done", "3 books"
	done.Progress = jobs.Progress{Current: 3, Total: 3}
	return []jobs.Job{queued, running, running, done}
}

func TestJobLine(t *testing.T) {
	tests := []struct {
		name string
		job  jobs.Job
		want string
	}{
		{"queued", jobs.Job{Status: jobs.StatusQueued}, "[queued]"},
		{"phase and progress", jobs.Job{Status: jobs.StatusRunning, Phase: "ingest", Message: "Cells", Progress: jobs.Progress{Current: 2, Total: 5}}, "[running/ingest] 2/5 - Cells"},
		{"error", jobs.Job{Status: jobs.StatusFailed, Phase: "failed", Error: "disk full"}, "[failed] (error: disk full)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JobLine(tt.job))
		})
	}
}

func TestPlainJobView_PrintsChangesUntilTerminal(t *testing.T) {
	// Given: a stream with one repeated snapshot
	updates := make(chan jobs.Job, 4)
	for _, j := range snapshots() {
		updates <- j
	}
	var buf bytes.Buffer

	// When: following it
	final, err := NewPlainJobView(&buf).Run(context.Background(), updates)

	// Then: duplicates are collapsed and the terminal snapshot is returned
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"[queued]",
		"[running/ingest] 1/3 - Biology",
		"[completed/done] 3/3 - 3 books",
	}, lines)
}

func TestPlainJobView_StreamEnds(t *testing.T) {
	updates := make(chan jobs.Job, 1)
	updates <- snapshots()[1]
	close(updates)

	last, err := NewPlainJobView(&bytes.Buffer{}).Run(context.Background(), updates)

	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, jobs.StatusRunning, last.Status)
}

func TestPlainJobView_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewPlainJobView(&bytes.Buffer{}).Run(ctx, make(chan jobs.Job))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewJobView_PlainForBuffers(t *testing.T) {
	v := NewJobView(NewConfig(&bytes.Buffer{}), nil)

	_, ok := v.(*PlainJobView)
	assert.True(t, ok)
}

func TestJobModel_UpdateAndView(t *testing.T) {
	// Given: a model with a cancel callback
	cancelled := 0
	m := newJobModel(func() { cancelled++ })
	m.styles = NoColorStyles()
	assert.Contains(t, m.View(), "waiting for job")

	// When: a running snapshot arrives
	running := snapshots()[1]
	_, cmd := m.Update(jobMsg(running))

	// Then: phase, progress and key hints are shown
	assert.Nil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "build job j1")
	assert.Contains(t, view, "ingest")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "c to cancel")

	// When: pressing c twice
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	require.NotNil(t, cmd)
	cmd()
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})

	// Then: cancel is requested once
	assert.Nil(t, cmd)
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "cancelling...")

	// When: the terminal snapshot arrives
	_, cmd = m.Update(jobMsg(snapshots()[3]))

	// Then: the program quits and the result is shown
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "✓ 3 books")
}

func TestJobModel_QuitDetaches(t *testing.T) {
	m := newJobModel(nil)
	m.Update(jobMsg(snapshots()[1]))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.True(t, m.detached)
	assert.NotContains(t, m.View(), "c to cancel")
}

func TestJobModel_FailedView(t *testing.T) {
	m := newJobModel(nil)
	m.styles = NoColorStyles()

	m.Update(jobMsg(jobs.Job{ID: "j2", Type: jobs.TypeRepair, Status: jobs.StatusFailed, Error: "library.json unreadable"}))

	assert.Contains(t, m.View(), "✗ library.json unreadable")
}

func TestRenderJobs(t *testing.T) {
	var buf bytes.Buffer
	list := snapshots()[1:2]
	list[0].CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, RenderJobs(&buf, list, true))

	assert.Contains(t, buf.String(), "STATUS")
	assert.Contains(t, buf.String(), "j1")
	assert.Contains(t, buf.String(), "1/3")

	buf.Reset()
	require.NoError(t, RenderJobs(&buf, nil, true))
	assert.Contains(t, buf.String(), "no jobs")
}
