package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/service"
	"github.com/Aman-CERP/atrium/pkg/version"
)

// Host is the part of the service the tools call.
type Host interface {
	Status(ctx context.Context, withConsistency bool) (*service.Status, error)
	Build(ctx context.Context, req service.BuildRequest) (string, error)
	Repair(ctx context.Context, req service.RepairRequest) (string, error)
	Job(ctx context.Context, id string) (jobs.Job, error)
	Cancel(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// Server exposes a Host over the Model Context Protocol.
type Server struct {
	mcp    *mcp.Server
	host   Host
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "library_status",
		Description: "Show the books in the library, their chunk counts and whether the search index is ready. Set consistency to also check index artifacts against library.json.",
	},
	{
		Name:        "library_build",
		Description: "Start a build job that ingests new source documents and rebuilds the search index. Returns a job id; poll it with job_status.",
	},
	{
		Name:        "library_repair",
		Description: "Start a repair job. Mode repair fixes metadata from on-disk artifacts; mode verify only reports issues. Returns a job id.",
	},
	{
		Name:        "job_status",
		Description: "Report the status, phase, progress and result of a job.",
	},
	{
		Name:        "job_cancel",
		Description: "Request cancellation of a job. Finished jobs are left unchanged.",
	},
	{
		Name:        "library_search",
		Description: "Search the indexed books with hybrid keyword and semantic ranking.",
	},
}

// NewServer creates an MCP server for host.
func NewServer(host Host, logger *slog.Logger) (*Server, error) {
	if host == nil {
		return nil, errors.New("host is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{host: host, logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "atrium", Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with loosely typed arguments and returns
// the markdown the MCP handlers send.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	switch name {
	case "library_status":
		consistency, _ := args["consistency"].(bool)
		return s.status(ctx, StatusInput{Consistency: consistency})
	case "library_build":
		return s.build(ctx, BuildInput{PDFDir: str("pdf_dir")})
	case "library_repair":
		in := RepairInput{Mode: str("mode")}
		if v, ok := args["rebuild_search_index"].(bool); ok {
			in.RebuildSearchIndex = &v
		}
		in.PruneTmp, _ = args["prune_tmp"].(bool)
		return s.repair(ctx, in)
	case "job_status":
		return s.jobStatus(ctx, JobInput{JobID: str("job_id")})
	case "job_cancel":
		return s.jobCancel(ctx, JobInput{JobID: str("job_id")})
	case "library_search":
		in := SearchInput{Query: str("query")}
		if l, ok := args["limit"].(float64); ok {
			in.Limit = int(l)
		}
		return s.search(ctx, in)
	default:
		return "", NewMethodNotFoundError(name)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, s.tool("library_status"), textHandler(s.status))
	mcp.AddTool(s.mcp, s.tool("library_build"), textHandler(s.build))
	mcp.AddTool(s.mcp, s.tool("library_repair"), textHandler(s.repair))
	mcp.AddTool(s.mcp, s.tool("job_status"), textHandler(s.jobStatus))
	mcp.AddTool(s.mcp, s.tool("job_cancel"), textHandler(s.jobCancel))
	mcp.AddTool(s.mcp, s.tool("library_search"), textHandler(s.search))
	s.logger.Info("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) tool(name string) *mcp.Tool {
	s.logger.Debug("Registered tool", slog.String("name", name))
	for _, t := range tools {
		if t.Name == name {
			return &mcp.Tool{Name: name, Description: t.Description}
		}
	}
	return &mcp.Tool{Name: name}
}

// textHandler adapts a markdown-returning function to an SDK tool handler.
func textHandler[In any](fn func(context.Context, In) (string, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		text, err := fn(ctx, in)
		if err != nil {
			return nil, nil, MapError(err)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
	}
}

func (s *Server) status(ctx context.Context, in StatusInput) (string, error) {
	st, err := s.host.Status(ctx, in.Consistency)
	if err != nil {
		return "", MapError(err)
	}
	return FormatStatus(st), nil
}

func (s *Server) build(ctx context.Context, in BuildInput) (string, error) {
	id, err := s.host.Build(ctx, service.BuildRequest{PDFDir: in.PDFDir})
	if err != nil {
		return "", MapError(err)
	}
	s.logger.Info("mcp_job_created", slog.String("type", string(jobs.TypeBuild)), slog.String("job_id", id))
	return jobCreated(id), nil
}

func (s *Server) repair(ctx context.Context, in RepairInput) (string, error) {
	id, err := s.host.Repair(ctx, service.RepairRequest{
		Mode:               in.Mode,
		RebuildSearchIndex: in.RebuildSearchIndex,
		PruneTmp:           in.PruneTmp,
	})
	if err != nil {
		return "", MapError(err)
	}
	s.logger.Info("mcp_job_created", slog.String("type", string(jobs.TypeRepair)), slog.String("job_id", id))
	return jobCreated(id), nil
}

func jobCreated(id string) string {
	return fmt.Sprintf("Started job `%s`. Use `job_status` with this id to follow it.", id)
}

func (s *Server) jobStatus(ctx context.Context, in JobInput) (string, error) {
	if strings.TrimSpace(in.JobID) == "" {
		return "", NewInvalidParamsError("job_id is required")
	}
	j, err := s.host.Job(ctx, in.JobID)
	if err != nil {
		return "", MapError(err)
	}
	return FormatJob(j), nil
}

func (s *Server) jobCancel(ctx context.Context, in JobInput) (string, error) {
	if strings.TrimSpace(in.JobID) == "" {
		return "", NewInvalidParamsError("job_id is required")
	}
	if err := s.host.Cancel(ctx, in.JobID); err != nil {
		return "", MapError(err)
	}
	j, err := s.host.Job(ctx, in.JobID)
	if err != nil {
		return "", MapError(err)
	}
	return FormatJob(j), nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	limit := clampLimit(in.Limit, 10, 1, 50)
	requestID := generateRequestID()
	start := time.Now()
	hits, err := s.host.Search(ctx, in.Query, limit)
	if err != nil {
		s.logger.Error("search failed",
			append([]any{slog.String("request_id", requestID)}, aerrors.LogAttrs(err)...)...)
		return "", MapError(err)
	}
	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(hits)))
	return FormatSearchResults(in.Query, hits), nil
}

// Serve runs the server on the given transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))
	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		return def
	}
	return max(lo, min(v, hi))
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
