package daemon

import (
	"encoding/json"
	"fmt"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/service"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing        = "ping"
	MethodStatus      = "status"
	MethodBuild       = "build"
	MethodRepair      = "repair"
	MethodUpload      = "upload"
	MethodPackInstall = "pack_install"
	MethodJobGet      = "job.get"
	MethodJobCancel   = "job.cancel"
	MethodJobList     = "job.list"
	MethodJobStream   = "job.stream"
	MethodShutdown    = "shutdown"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Application error codes, one per error category that callers branch on.
// Error.Data carries the full atrium error code.
const (
	ErrCodeValidation = -32001
	ErrCodeNotFound   = -32002
	ErrCodeConflict   = -32003
	ErrCodeFailed     = -32004
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response represents a JSON-RPC 2.0 response. job.stream answers with
// several responses sharing the request id, one per line.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData identifies the atrium error behind an RPC error.
type ErrorData struct {
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// AsAtrium converts the RPC error back into the error the daemon returned,
// so clients can branch on categories as if the call were local.
func (e *Error) AsAtrium() error {
	if e.Data == nil || e.Data.Code == "" {
		return e
	}
	ae := aerrors.New(e.Data.Code, e.Message, nil)
	if e.Data.Suggestion != "" {
		ae = ae.WithSuggestion(e.Data.Suggestion)
	}
	return ae
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, fmt.Sprintf("encode result: %v", err))
	}
	return Response{JSONRPC: "2.0", Result: data, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// ErrorResponse maps err onto an RPC error by category.
func ErrorResponse(id string, err error) Response {
	code := ErrCodeFailed
	switch {
	case aerrors.IsValidation(err):
		code = ErrCodeValidation
	case aerrors.IsNotFound(err):
		code = ErrCodeNotFound
	case aerrors.IsConflict(err):
		code = ErrCodeConflict
	}
	resp := NewErrorResponse(id, code, err.Error())
	if ae, ok := aerrors.As(err); ok {
		resp.Error.Message = ae.Message
		resp.Error.Data = &ErrorData{Code: ae.Code, Suggestion: ae.Suggestion}
	}
	return resp
}

// StatusParams are the parameters of status.
type StatusParams struct {
	Consistency bool `json:"consistency,omitempty"`
}

// UploadParams are the parameters of upload. The daemon reads Path
// itself, so it must be visible to the daemon process.
type UploadParams struct {
	Path         string `json:"path"`
	DisplayTitle string `json:"display_title,omitempty"`
	Owner        string `json:"owner,omitempty"`
}

// Validate checks that required fields are present.
func (p *UploadParams) Validate() error {
	if p.Path == "" {
		return aerrors.ValidationError("path is required", nil)
	}
	return nil
}

// JobParams name one job.
type JobParams struct {
	ID string `json:"id"`
}

// Validate checks that required fields are present.
func (p *JobParams) Validate() error {
	if p.ID == "" {
		return aerrors.ValidationError("id is required", nil)
	}
	return nil
}

// JobListParams filter job.list.
type JobListParams struct {
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`
}

// Filter converts the params into a job filter.
func (p JobListParams) Filter() (jobs.Filter, error) {
	var f jobs.Filter
	if p.Type != "" {
		t, err := jobs.ParseType(p.Type)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if p.Status != "" {
		f.Status = jobs.Status(p.Status)
	}
	return f, nil
}

// JobCreatedResult answers the job creating methods.
type JobCreatedResult struct {
	JobID string `json:"job_id"`
}

// StatusResult contains daemon and library status.
type StatusResult struct {
	Running bool            `json:"running"`
	PID     int             `json:"pid"`
	Uptime  string          `json:"uptime"`
	Library *service.Status `json:"library"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// ShutdownResult acknowledges a shutdown request.
type ShutdownResult struct {
	Stopping bool `json:"stopping"`
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
