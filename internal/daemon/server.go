package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/service"
)

// Host is the part of *service.Service the daemon serves.
type Host interface {
	Status(ctx context.Context, withConsistency bool) (*service.Status, error)
	Build(ctx context.Context, req service.BuildRequest) (string, error)
	Repair(ctx context.Context, req service.RepairRequest) (string, error)
	Upload(ctx context.Context, req service.UploadRequest) (string, error)
	PackInstall(ctx context.Context, req packs.Request) (string, error)
	Job(ctx context.Context, id string) (jobs.Job, error)
	Stream(ctx context.Context, id string) (<-chan jobs.Job, error)
	Cancel(ctx context.Context, id string) error
	Jobs(ctx context.Context, filter jobs.Filter) []jobs.Job
}

// requestTimeout bounds reading the request and answering unary methods.
// job.stream clears it once the stream starts.
const requestTimeout = 30 * time.Second

// Server listens on a Unix socket and answers one request per connection.
type Server struct {
	socketPath string
	listener   net.Listener
	host       Host
	started    time.Time
	logger     *slog.Logger

	// onShutdown is called when a client sends shutdown.
	onShutdown func()

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for host on socketPath.
func NewServer(socketPath string, host Host, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{socketPath: socketPath, host: host, logger: logger, onShutdown: func() {}}
}

// OnShutdown sets the function run when a client requests shutdown.
func (s *Server) OnShutdown(fn func()) { s.onShutdown = fn }

// ListenAndServe serves until ctx is cancelled. A stale socket file from a
// previous run is replaced.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("daemon_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("daemon_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		s.logger.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "invalid JSON-RPC 2.0 request"))
		return
	}

	if req.Method == MethodJobStream {
		s.handleStream(ctx, conn, encoder, req)
		return
	}
	_ = encoder.Encode(s.handleRequest(ctx, req))
}

// handleRequest dispatches a unary request.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		var p StatusParams
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		st, err := s.host.Status(ctx, p.Consistency)
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, s.status(st))

	case MethodBuild:
		var p service.BuildRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return created(req.ID)(s.host.Build(ctx, p))

	case MethodRepair:
		var p service.RepairRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return created(req.ID)(s.host.Repair(ctx, p))

	case MethodUpload:
		var p UploadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if err := p.Validate(); err != nil {
			return ErrorResponse(req.ID, err)
		}
		return created(req.ID)(s.host.Upload(ctx, service.UploadRequest{
			Path:         p.Path,
			DisplayTitle: p.DisplayTitle,
			Owner:        p.Owner,
		}))

	case MethodPackInstall:
		var p packs.Request
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return created(req.ID)(s.host.PackInstall(ctx, p))

	case MethodJobGet, MethodJobCancel:
		var p JobParams
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if err := p.Validate(); err != nil {
			return ErrorResponse(req.ID, err)
		}
		if req.Method == MethodJobCancel {
			if err := s.host.Cancel(ctx, p.ID); err != nil {
				return ErrorResponse(req.ID, err)
			}
		}
		job, err := s.host.Job(ctx, p.ID)
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, job)

	case MethodJobList:
		var p JobListParams
		if err := decodeParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		filter, err := p.Filter()
		if err != nil {
			return ErrorResponse(req.ID, err)
		}
		list := s.host.Jobs(ctx, filter)
		if list == nil {
			list = []jobs.Job{}
		}
		return NewSuccessResponse(req.ID, list)

	case MethodShutdown:
		s.logger.Info("daemon_shutdown_requested")
		go s.onShutdown()
		return NewSuccessResponse(req.ID, ShutdownResult{Stopping: true})

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func created(id string) func(string, error) Response {
	return func(jobID string, err error) Response {
		if err != nil {
			return ErrorResponse(id, err)
		}
		return NewSuccessResponse(id, JobCreatedResult{JobID: jobID})
	}
}

// handleStream writes one response per job snapshot until the job is
// terminal or the client goes away.
func (s *Server) handleStream(ctx context.Context, conn net.Conn, enc *json.Encoder, req Request) {
	var p JobParams
	if err := decodeParams(req.Params, &p); err != nil {
		_ = enc.Encode(NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()))
		return
	}
	if err := p.Validate(); err != nil {
		_ = enc.Encode(ErrorResponse(req.ID, err))
		return
	}

	job, err := s.host.Job(ctx, p.ID)
	if err != nil {
		_ = enc.Encode(ErrorResponse(req.ID, err))
		return
	}
	if job.Terminal() {
		_ = enc.Encode(NewSuccessResponse(req.ID, job))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := s.host.Stream(streamCtx, p.ID)
	if err != nil {
		_ = enc.Encode(ErrorResponse(req.ID, err))
		return
	}
	_ = conn.SetDeadline(time.Time{})
	for snap := range ch {
		if err := enc.Encode(NewSuccessResponse(req.ID, snap)); err != nil {
			s.logger.Debug("daemon_stream_closed", slog.String("job_id", p.ID), slog.String("error", err.Error()))
			return
		}
		if snap.Terminal() {
			return
		}
	}
	if ctx.Err() != nil {
		_ = enc.Encode(ErrorResponse(req.ID, aerrors.InternalError("daemon is shutting down", ctx.Err())))
	}
}

func (s *Server) status(lib *service.Status) StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
		Library: lib,
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}
