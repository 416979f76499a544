package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/service"
)

// Client talks to a running daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	return c.call(ctx, MethodPing, nil, &res)
}

// Status returns daemon and library status.
func (c *Client) Status(ctx context.Context, consistency bool) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, MethodStatus, StatusParams{Consistency: consistency}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Build starts a build job.
func (c *Client) Build(ctx context.Context, req service.BuildRequest) (string, error) {
	return c.create(ctx, MethodBuild, req)
}

// Repair starts a repair job.
func (c *Client) Repair(ctx context.Context, req service.RepairRequest) (string, error) {
	return c.create(ctx, MethodRepair, req)
}

// Upload starts an upload job for a file the daemon can read.
func (c *Client) Upload(ctx context.Context, p UploadParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return c.create(ctx, MethodUpload, p)
}

// PackInstall starts a pack install job.
func (c *Client) PackInstall(ctx context.Context, req packs.Request) (string, error) {
	return c.create(ctx, MethodPackInstall, req)
}

// Job returns a job snapshot.
func (c *Client) Job(ctx context.Context, id string) (jobs.Job, error) {
	var job jobs.Job
	err := c.call(ctx, MethodJobGet, JobParams{ID: id}, &job)
	return job, err
}

// Cancel requests cancellation and returns the job after the request.
func (c *Client) Cancel(ctx context.Context, id string) (jobs.Job, error) {
	var job jobs.Job
	err := c.call(ctx, MethodJobCancel, JobParams{ID: id}, &job)
	return job, err
}

// Jobs lists the daemon's jobs.
func (c *Client) Jobs(ctx context.Context, p JobListParams) ([]jobs.Job, error) {
	var list []jobs.Job
	err := c.call(ctx, MethodJobList, p, &list)
	return list, err
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	var res ShutdownResult
	return c.call(ctx, MethodShutdown, nil, &res)
}

// Stream calls fn for every snapshot of the job until it is terminal, and
// returns the terminal snapshot.
func (c *Client) Stream(ctx context.Context, id string, fn func(jobs.Job)) (jobs.Job, error) {
	conn, err := c.Connect()
	if err != nil {
		return jobs.Job{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.send(conn, MethodJobStream, JobParams{ID: id}); err != nil {
		return jobs.Job{}, err
	}
	decoder := json.NewDecoder(bufio.NewReader(conn))
	for {
		var resp Response
		if err := decoder.Decode(&resp); err != nil {
			if ctx.Err() != nil {
				return jobs.Job{}, ctx.Err()
			}
			return jobs.Job{}, fmt.Errorf("failed to receive response: %w", err)
		}
		if resp.Error != nil {
			return jobs.Job{}, resp.Error.AsAtrium()
		}
		var job jobs.Job
		if err := json.Unmarshal(resp.Result, &job); err != nil {
			return jobs.Job{}, fmt.Errorf("failed to decode job: %w", err)
		}
		if fn != nil {
			fn(job)
		}
		if job.Terminal() {
			return job, nil
		}
	}
}

func (c *Client) create(ctx context.Context, method string, params any) (string, error) {
	var res JobCreatedResult
	if err := c.call(ctx, method, params, &res); err != nil {
		return "", err
	}
	return res.JobID, nil
}

// call performs one unary request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := c.send(conn, method, params); err != nil {
		return err
	}
	resp, err := c.receive(conn)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error.AsAtrium()
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, method string, params any) error {
	req := Request{JSONRPC: "2.0", Method: method, ID: c.nextID()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = raw
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
