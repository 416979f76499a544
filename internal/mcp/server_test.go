package mcp

import (
	"context"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/service"
	"github.com/Aman-CERP/atrium/internal/store"
)

// MockHost implements Host for testing.
type MockHost struct {
	mu        sync.Mutex
	StatusFn  func(ctx context.Context, withConsistency bool) (*service.Status, error)
	BuildFn   func(ctx context.Context, req service.BuildRequest) (string, error)
	RepairFn  func(ctx context.Context, req service.RepairRequest) (string, error)
	JobFn     func(ctx context.Context, id string) (jobs.Job, error)
	SearchFn  func(ctx context.Context, query string, limit int) ([]search.Hit, error)
	Cancelled []string
}

func (m *MockHost) Status(ctx context.Context, withConsistency bool) (*service.Status, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx, withConsistency)
	}
	return &service.Status{IndexRoot: "/idx"}, nil
}

func (m *MockHost) Build(ctx context.Context, req service.BuildRequest) (string, error) {
	if m.BuildFn != nil {
		return m.BuildFn(ctx, req)
	}
	return "job-build", nil
}

func (m *MockHost) Repair(ctx context.Context, req service.RepairRequest) (string, error) {
	if m.RepairFn != nil {
		return m.RepairFn(ctx, req)
	}
	return "job-repair", nil
}

func (m *MockHost) Job(ctx context.Context, id string) (jobs.Job, error) {
	if m.JobFn != nil {
		return m.JobFn(ctx, id)
	}
	return jobs.Job{}, aerrors.NotFoundError("job", id)
}

func (m *MockHost) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, id)
	return nil
}

func (m *MockHost) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

var _ Host = (*MockHost)(nil)

func newTestServer(t *testing.T, host Host) *Server {
	t.Helper()
	srv, err := NewServer(host, nil)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresHost(t *testing.T) {
	_, err := NewServer(nil, nil)

	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	srv := newTestServer(t, &MockHost{})

	names := make([]string, 0)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{
		"library_status", "library_build", "library_repair",
		"job_status", "job_cancel", "library_search",
	}, names)
}

func TestStatusTool_RendersBooksAndIssues(t *testing.T) {
	// Given: a library with one book and one consistency issue
	var gotConsistency bool
	host := &MockHost{StatusFn: func(_ context.Context, c bool) (*service.Status, error) {
		gotConsistency = c
		return &service.Status{
			IndexRoot:   "/idx",
			IndexExists: true,
			IndexReady:  true,
			ChunkCount:  12,
			BookCounts:  []service.BookCount{{Book: "Anatomy", Chunks: 12, BookID: "b1", Status: "ready"}},
			Consistency: &index.ConsistencyReport{Issues: []index.Issue{
				{BookID: "b1", Kind: index.IssueChunkCountMismatch, Detail: "12 != 11"},
			}},
		}, nil
	}}
	srv := newTestServer(t, host)

	// When: calling library_status with consistency
	text, err := srv.CallTool(context.Background(), "library_status", map[string]any{"consistency": true})

	// Then: the table and the issue are rendered
	require.NoError(t, err)
	assert.True(t, gotConsistency)
	assert.Contains(t, text, "## Library Status")
	assert.Contains(t, text, "| Anatomy | ready | 12 |")
	assert.Contains(t, text, "chunk_count_mismatch")
}

func TestStatusTool_NoIndexYet(t *testing.T) {
	srv := newTestServer(t, &MockHost{})

	text, err := srv.CallTool(context.Background(), "library_status", nil)

	require.NoError(t, err)
	assert.Contains(t, text, "No index yet")
}

func TestBuildTool_PassesDirAndReturnsJobID(t *testing.T) {
	var got service.BuildRequest
	srv := newTestServer(t, &MockHost{BuildFn: func(_ context.Context, req service.BuildRequest) (string, error) {
		got = req
		return "j-42", nil
	}})

	text, err := srv.CallTool(context.Background(), "library_build", map[string]any{"pdf_dir": "/books"})

	require.NoError(t, err)
	assert.Equal(t, "/books", got.PDFDir)
	assert.Contains(t, text, "`j-42`")
}

func TestBuildTool_BusyMapsToConflict(t *testing.T) {
	srv := newTestServer(t, &MockHost{BuildFn: func(context.Context, service.BuildRequest) (string, error) {
		return "", aerrors.BusyError("/idx")
	}})

	_, err := srv.CallTool(context.Background(), "library_build", nil)

	require.Error(t, err)
	assert.Equal(t, ErrCodeConflict, MapError(err).Code)
}

func TestRepairTool_ForwardsOptions(t *testing.T) {
	var got service.RepairRequest
	srv := newTestServer(t, &MockHost{RepairFn: func(_ context.Context, req service.RepairRequest) (string, error) {
		got = req
		return "j-r", nil
	}})

	_, err := srv.CallTool(context.Background(), "library_repair", map[string]any{
		"mode":                 "verify",
		"rebuild_search_index": false,
		"prune_tmp":            true,
	})

	require.NoError(t, err)
	assert.Equal(t, "verify", got.Mode)
	require.NotNil(t, got.RebuildSearchIndex)
	assert.False(t, *got.RebuildSearchIndex)
	assert.True(t, got.PruneTmp)
}

func TestJobTools(t *testing.T) {
	done := jobs.Job{
		ID:       "j1",
		Type:     jobs.TypeUpload,
		Status:   jobs.StatusCompleted,
		Phase:    "done",
		Message:  "Indexed Cells",
		Progress: jobs.Progress{Current: 5, Total: 5},
		Result:   &jobs.Result{Upload: &jobs.UploadResult{BookID: "b9", DisplayTitle: "Cells", ChunkCount: 7}},
	}
	host := &MockHost{JobFn: func(_ context.Context, id string) (jobs.Job, error) {
		if id == "j1" {
			return done, nil
		}
		return jobs.Job{}, aerrors.NotFoundError("job", id)
	}}
	srv := newTestServer(t, host)
	ctx := context.Background()

	t.Run("status renders result", func(t *testing.T) {
		text, err := srv.CallTool(ctx, "job_status", map[string]any{"job_id": "j1"})

		require.NoError(t, err)
		assert.Contains(t, text, "**Status:** completed")
		assert.Contains(t, text, "**Progress:** 5/5")
		assert.Contains(t, text, "Book `b9` (Cells), 7 chunks.")
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := srv.CallTool(ctx, "job_status", map[string]any{"job_id": "nope"})

		require.Error(t, err)
		assert.Equal(t, ErrCodeNotFound, MapError(err).Code)
	})

	t.Run("missing id is invalid", func(t *testing.T) {
		_, err := srv.CallTool(ctx, "job_cancel", map[string]any{"job_id": "  "})

		require.Error(t, err)
		assert.Equal(t, ErrCodeInvalidParams, MapError(err).Code)
	})

	t.Run("cancel returns the snapshot", func(t *testing.T) {
		text, err := srv.CallTool(ctx, "job_cancel", map[string]any{"job_id": "j1"})

		require.NoError(t, err)
		assert.Equal(t, []string{"j1"}, host.Cancelled)
		assert.Contains(t, text, "Job `j1`")
	})
}

func TestSearchTool(t *testing.T) {
	var gotLimit int
	host := &MockHost{SearchFn: func(_ context.Context, _ string, limit int) ([]search.Hit, error) {
		gotLimit = limit
		return []search.Hit{{
			FusedResult: search.FusedResult{ChunkID: "c1", Score: 0.87},
			Chunk:       store.Chunk{ChunkID: "c1", BookName: "Botany", PageStart: 3, PageEnd: 4, Text: "photosynthesis in leaves"},
		}}, nil
	}}
	srv := newTestServer(t, host)

	text, err := srv.CallTool(context.Background(), "library_search", map[string]any{"query": "leaves", "limit": float64(500)})

	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)
	assert.Contains(t, text, "### 1. Botany, pages 3-4 (score: 0.87)")
	assert.Contains(t, text, "photosynthesis in leaves")

	_, err = srv.CallTool(context.Background(), "library_search", map[string]any{"query": "   "})
	assert.Error(t, err)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, &MockHost{})

	_, err := srv.CallTool(context.Background(), "library_destroy", nil)

	require.Error(t, err)
	assert.Equal(t, ErrCodeMethodNotFound, MapError(err).Code)
}

func TestServer_OverInMemoryTransport(t *testing.T) {
	// Given: the server connected to a client over in-memory transports
	ctx := context.Background()
	srv := newTestServer(t, &MockHost{})
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	// When: calling library_build through the protocol
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "library_build", Arguments: map[string]any{}})

	// Then: the markdown arrives as text content
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "`job-build`")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 50))
	assert.Equal(t, 50, clampLimit(99, 10, 1, 50))
	assert.Equal(t, 7, clampLimit(7, 10, 1, 50))
}
