// Package jobs runs long operations (build, repair, upload, pack install)
// as cancellable background jobs and publishes their status.
//
// A job is created by Manager.Create, which validates the request on the
// caller's goroutine and returns the job id at once. The work runs on its
// own goroutine; callers poll with Get or follow a stream of snapshots.
// Cancellation is cooperative: the running task checks Runtime.Checkpoint
// at points of its choosing.
package jobs

import (
	"errors"
	"fmt"
	"time"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/index"
)

// Type is the kind of work a job performs.
type Type string

const (
	TypeBuild       Type = "build"
	TypeRepair      Type = "repair"
	TypeUpload      Type = "upload"
	TypePackInstall Type = "pack_install"
)

// ParseType validates a job type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeBuild, TypeRepair, TypeUpload, TypePackInstall:
		return t, nil
	}
	return "", aerrors.New(aerrors.ErrCodeInvalidJobType, fmt.Sprintf("unknown job type %q", s), nil)
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrCancelled is returned by Runtime.Checkpoint once cancellation was
// requested. A task returning it ends as cancelled.
var ErrCancelled = errors.New("job cancelled")

// Progress counts units of work. Current never decreases and never exceeds
// Total.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// UploadResult is the result of an upload job.
type UploadResult struct {
	BookID       string `json:"book_id"`
	DisplayTitle string `json:"display_title"`
	ChunkCount   int    `json:"chunk_count"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// PackInstallResult aggregates the per-book outcomes of a pack install.
type PackInstallResult struct {
	PackID             string              `json:"pack_id"`
	Ingested           []index.IngestEntry `json:"ingested"`
	Skipped            []index.SkipEntry   `json:"skipped"`
	Failed             []index.FailEntry   `json:"failed"`
	RebuiltSearchIndex bool                `json:"rebuilt_search_index"`
}

// Result holds the report of a finished job. Exactly one field is set,
// matching the job type.
type Result struct {
	Build       *index.BuildReport  `json:"build,omitempty"`
	Repair      *index.RepairReport `json:"repair,omitempty"`
	Upload      *UploadResult       `json:"upload,omitempty"`
	PackInstall *PackInstallResult  `json:"pack_install,omitempty"`
}

// Empty reports whether no report is set.
func (r Result) Empty() bool {
	return r.Build == nil && r.Repair == nil && r.Upload == nil && r.PackInstall == nil
}

// Job is a snapshot of one job. Snapshots are values; the manager never
// hands out its own copy.
type Job struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Status     Status     `json:"status"`
	Phase      string     `json:"phase"`
	Message    string     `json:"message"`
	Progress   Progress   `json:"progress"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool { return j.Status.Terminal() }

// Filter selects jobs in List. Zero fields match everything.
type Filter struct {
	Type   Type
	Status Status
}

func (f Filter) match(j Job) bool {
	return (f.Type == "" || f.Type == j.Type) && (f.Status == "" || f.Status == j.Status)
}
