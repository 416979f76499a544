package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/atrium/internal/config"
	"github.com/Aman-CERP/atrium/internal/library"
)

func TestResult_JSONUsesStatusName(t *testing.T) {
	data, err := json.Marshal(warn("x", "y"))

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestResult_Critical(t *testing.T) {
	assert.False(t, pass("a", "").required().Critical())
	assert.True(t, fail("a", "").required().Critical())
	assert.False(t, fail("a", "").Critical())
	assert.False(t, warn("a", "").required().Critical())
}

func TestNewReport(t *testing.T) {
	tests := []struct {
		name     string
		results  []Result
		expected string
	}{
		{"all pass", []Result{pass("a", ""), pass("b", "")}, SummaryReady},
		{"with warnings", []Result{pass("a", ""), warn("b", "")}, SummaryWarnings},
		{"with critical failure", []Result{warn("a", ""), fail("b", "").required()}, SummaryFailed},
		{"with optional failure", []Result{pass("a", ""), fail("b", "")}, SummaryWarnings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := NewReport(tt.results)

			assert.Equal(t, tt.expected, rep.Status)
			assert.Equal(t, tt.expected == SummaryFailed, rep.Failed())
			assert.Len(t, rep.Checks, len(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions(t *testing.T) {
	t.Run("existing root", func(t *testing.T) {
		root := t.TempDir()

		result := New().CheckWritePermissions(root)

		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "OK", result.Message)
		assert.NoFileExists(t, filepath.Join(root, probeFile))
	})

	t.Run("root not created yet", func(t *testing.T) {
		parent := t.TempDir()

		result := New().CheckWritePermissions(filepath.Join(parent, "a", "index"))

		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "will be created")
		assert.Equal(t, "nearest existing directory "+parent, result.Details)
	})

	t.Run("read-only directory", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("Skipping read-only test when running as root")
		}
		dir := filepath.Join(t.TempDir(), "readonly")
		require.NoError(t, os.Mkdir(dir, 0o555))
		defer func() { _ = os.Chmod(dir, 0o755) }()

		result := New().CheckWritePermissions(dir)

		assert.Equal(t, StatusFail, result.Status)
		assert.Contains(t, result.Message, "permission denied")
	})
}

func TestChecker_CheckLibrary(t *testing.T) {
	t.Run("no index yet", func(t *testing.T) {
		result := New().CheckLibrary(t.TempDir())

		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "no index yet", result.Message)
	})

	t.Run("counts books", func(t *testing.T) {
		// Given: a library with one ready and one failed book
		root := t.TempDir()
		lib := library.NewLibrary(time.Now())
		lib.Upsert(&library.Book{BookID: "a", Status: library.StatusReady, ChunkCount: 7})
		lib.Upsert(&library.Book{BookID: "b", Status: library.StatusError})
		require.NoError(t, library.NewStore(library.NewLayout(root)).Save(lib))

		// When: checking it
		result := New().CheckLibrary(root)

		// Then: the counts are reported
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "2 book(s), 1 ready, 7 chunks", result.Message)
	})

	t.Run("corrupt library.json", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, library.LibraryFile), []byte("{"), 0o644))

		result := New().CheckLibrary(root)

		assert.True(t, result.Critical())
		assert.Contains(t, result.Details, "atrium repair")
	})
}

func TestChecker_CheckLock(t *testing.T) {
	t.Run("missing root is not created", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "index")

		result := New().CheckLock(root)

		assert.Equal(t, StatusPass, result.Status)
		assert.NoDirExists(t, root)
	})

	t.Run("held lock warns", func(t *testing.T) {
		// Given: a build holding the root lock
		root := t.TempDir()
		release, err := library.NewRootLock(library.NewLayout(root)).TryExclusive()
		require.NoError(t, err)
		defer release()

		// When: checking the lock
		result := New().CheckLock(root)

		// Then: it is reported busy
		assert.Equal(t, StatusWarn, result.Status)
		assert.Contains(t, result.Message, "running build")
	})

	t.Run("free lock passes", func(t *testing.T) {
		result := New().CheckLock(t.TempDir())

		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "free", result.Message)
	})
}

func TestChecker_CheckSourceDir(t *testing.T) {
	dir := t.TempDir()

	empty := New().CheckSourceDir(dir)
	assert.Equal(t, StatusWarn, empty.Status)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cells.txt"), []byte("cells"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("x"), 0o644))

	result := New().CheckSourceDir(dir)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "1 source file(s)", result.Message)
}

func TestChecker_CheckRedis(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)

		result := New().CheckRedis(context.Background(), "redis://"+mr.Addr())

		assert.Equal(t, StatusPass, result.Status)
		assert.False(t, result.Required)
	})

	t.Run("invalid url", func(t *testing.T) {
		result := New().CheckRedis(context.Background(), "http://nope")

		assert.Equal(t, StatusFail, result.Status)
		assert.False(t, result.Critical())
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		result := New(WithRedisTimeout(200*time.Millisecond)).CheckRedis(context.Background(), "redis://"+addr)

		assert.Equal(t, StatusFail, result.Status)
		assert.Equal(t, addr, result.Details)
	})
}

func TestChecker_Run(t *testing.T) {
	t.Run("valid config runs every check", func(t *testing.T) {
		// Given: a config pointing at fresh directories and a redis mirror
		mr := miniredis.RunT(t)
		dir := t.TempDir()
		cfg := config.NewConfig()
		cfg.Library.IndexRoot = filepath.Join(dir, "index")
		cfg.Library.PDFDir = filepath.Join(dir, "pdfs")
		cfg.Jobs.RedisURL = "redis://" + mr.Addr()

		// When: running all checks
		rep := New().Run(context.Background(), cfg)

		// Then: every check is present and none is critical
		names := make([]string, 0, len(rep.Checks))
		for _, r := range rep.Checks {
			names = append(names, r.Name)
		}
		assert.Equal(t, []string{
			"config", "write_permissions", "disk_space", "file_descriptors",
			"library", "index_lock", "pdf_dir", "redis_mirror",
		}, names)
		assert.False(t, rep.Failed())
		assert.NoDirExists(t, cfg.Library.IndexRoot)
	})

	t.Run("invalid config stops early", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Chunking.ChunkWords = 0

		rep := New().Run(context.Background(), cfg)

		require.Len(t, rep.Checks, 1)
		assert.True(t, rep.Failed())
	})
}

func TestReport_Print(t *testing.T) {
	rep := NewReport([]Result{
		pass("disk_space", "50 GB free"),
		warn("library", "no index yet").detail("Run 'atrium build' to create one"),
		fail("write_permissions", "permission denied").required(),
	})

	t.Run("verbose", func(t *testing.T) {
		buf := &bytes.Buffer{}
		rep.Print(buf, true)

		out := buf.String()
		assert.Contains(t, out, "Atrium Doctor")
		assert.Contains(t, out, "[PASS] disk_space: 50 GB free")
		assert.Contains(t, out, "      Run 'atrium build' to create one")
		assert.Contains(t, out, "Status: FAILED")
		assert.Contains(t, out, "1 error(s):\n  - write_permissions: permission denied")
		assert.Contains(t, out, "1 warning(s):\n  - library: no index yet")
	})

	t.Run("quiet hides details", func(t *testing.T) {
		buf := &bytes.Buffer{}
		rep.Print(buf, false)

		assert.NotContains(t, buf.String(), "atrium build")
	})
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", humanBytes(512))
	assert.Equal(t, "1.5 KB", humanBytes(1536))
	assert.Equal(t, "100.0 MB", humanBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", humanBytes(2<<30))
	assert.Equal(t, "3.0 TB", humanBytes(3<<40))
}
