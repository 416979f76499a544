package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/service"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// APIError is the error body.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// CreatedResponse answers a job creating request.
type CreatedResponse struct {
	JobID string `json:"job_id"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case aerrors.IsValidation(err):
		return http.StatusBadRequest
	case aerrors.IsNotFound(err):
		return http.StatusNotFound
	case aerrors.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := aerrors.GetCode(err)
	if code == "" {
		code = aerrors.ErrCodeInternal
	}
	msg := err.Error()
	if ae, ok := aerrors.As(err); ok {
		msg = ae.Message
	}
	c.AbortWithStatusJSON(statusFor(err), ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func badRequest(c *gin.Context, msg string, cause error) {
	respondError(c, aerrors.ValidationError(msg, cause))
}

// bindOptional decodes a JSON body into dst, accepting an empty body.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body", err)
		return false
	}
	return true
}

// fresh refuses requests based on an outdated library.json revision.
func (s *Server) fresh(c *gin.Context) bool {
	if err := s.host.CheckFresh(c.GetHeader(RevisionHeader)); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

func (s *Server) created(c *gin.Context, id string, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CreatedResponse{JobID: id})
}

// GET /api/status
func (s *Server) status(c *gin.Context) {
	withConsistency, _ := strconv.ParseBool(c.DefaultQuery("consistency", "true"))
	st, err := s.host.Status(c.Request.Context(), withConsistency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /api/verify
func (s *Server) verify(c *gin.Context) {
	report, err := s.host.Verify(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/search?q=&limit=
func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		badRequest(c, "q is required", nil)
		return
	}
	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			badRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit), err)
			return
		}
		limit = n
	}
	hits, err := s.host.Search(c.Request.Context(), q, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "hits": hits})
}

// GET /api/search/stats
func (s *Server) searchStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.host.SearchStats())
}

// POST /api/build
func (s *Server) build(c *gin.Context) {
	var req service.BuildRequest
	if !bindOptional(c, &req) || !s.fresh(c) {
		return
	}
	id, err := s.host.Build(c.Request.Context(), req)
	s.created(c, id, err)
}

// POST /api/repair
func (s *Server) repair(c *gin.Context) {
	var req service.RepairRequest
	if !bindOptional(c, &req) || !s.fresh(c) {
		return
	}
	id, err := s.host.Repair(c.Request.Context(), req)
	s.created(c, id, err)
}

// POST /api/uploads (multipart: file, display_title)
func (s *Server) upload(c *gin.Context) {
	if s.maxUpload > 0 {
		// Room for the multipart framing around the file.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+1<<20)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			badRequest(c, "file exceeds the upload limit", err)
			return
		}
		badRequest(c, "multipart field \"file\" is required", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, aerrors.IOError("open uploaded file", err))
		return
	}
	defer f.Close()

	owner := c.GetHeader(OwnerHeader)
	if owner == "" {
		owner = c.ClientIP()
	}
	id, err := s.host.Upload(c.Request.Context(), service.UploadRequest{
		Reader:       f,
		Filename:     fh.Filename,
		DisplayTitle: c.PostForm("display_title"),
		Owner:        owner,
	})
	s.created(c, id, err)
}

// POST /api/packs/install
func (s *Server) packInstall(c *gin.Context) {
	var req packs.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}
	id, err := s.host.PackInstall(c.Request.Context(), req)
	s.created(c, id, err)
}

// GET /api/jobs?type=&status=
func (s *Server) listJobs(c *gin.Context) {
	var filter jobs.Filter
	if raw := c.Query("type"); raw != "" {
		t, err := jobs.ParseType(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Type = t
	}
	if raw := c.Query("status"); raw != "" {
		st := jobs.Status(raw)
		switch st {
		case jobs.StatusQueued, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled:
		default:
			badRequest(c, fmt.Sprintf("unknown job status %q", raw), nil)
			return
		}
		filter.Status = st
	}
	list := s.host.Jobs(c.Request.Context(), filter)
	if list == nil {
		list = []jobs.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

// lookup returns the job named by :id, treating a job of another type as
// not found when t is set.
func (s *Server) lookup(c *gin.Context, t jobs.Type) (jobs.Job, bool) {
	id := c.Param("id")
	job, err := s.host.Job(c.Request.Context(), id)
	if err == nil && t != "" && job.Type != t {
		err = aerrors.NotFoundError("job", id)
	}
	if err != nil {
		respondError(c, err)
		return jobs.Job{}, false
	}
	return job, true
}

// GET .../:id
func (s *Server) getJob(t jobs.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		if job, ok := s.lookup(c, t); ok {
			c.JSON(http.StatusOK, job)
		}
	}
}

// POST .../:id/cancel
func (s *Server) cancelJob(t jobs.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := s.lookup(c, t)
		if !ok {
			return
		}
		if err := s.host.Cancel(c.Request.Context(), job.ID); err != nil {
			respondError(c, err)
			return
		}
		job, err := s.host.Job(c.Request.Context(), job.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// GET .../:id/stream
//
// Each snapshot is sent as a "job" event. The stream ends after the
// terminal snapshot. Comment lines keep idle connections open.
func (s *Server) streamJob(t jobs.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := s.lookup(c, t)
		if !ok {
			return
		}
		if job.Terminal() {
			c.Header("Cache-Control", "no-cache")
			c.SSEvent("job", job)
			return
		}
		ch, err := s.host.Stream(c.Request.Context(), job.ID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		heartbeat := time.NewTicker(s.heartbeat)
		defer heartbeat.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case snap, open := <-ch:
				if !open {
					return false
				}
				c.SSEvent("job", snap)
				return !snap.Terminal()
			case <-heartbeat.C:
				_, _ = io.WriteString(w, ": ping\n\n")
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
