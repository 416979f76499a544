package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/jobs"
)

func TestErrorResponse_MapsCategories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", aerrors.ValidationError("bad", nil), ErrCodeValidation},
		{"not found", aerrors.NotFoundError("job", "x"), ErrCodeNotFound},
		{"busy", aerrors.BusyError("/idx"), ErrCodeConflict},
		{"stale", aerrors.StaleError("changed"), ErrCodeConflict},
		{"io", aerrors.IOError("disk", nil), ErrCodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ErrorResponse("1", tt.err)

			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			require.NotNil(t, resp.Error.Data)
			assert.Equal(t, aerrors.GetCode(tt.err), resp.Error.Data.Code)
		})
	}
}

func TestError_AsAtriumKeepsCategory(t *testing.T) {
	// Given: a busy error sent over the wire
	resp := ErrorResponse("1", aerrors.BusyError("/idx"))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded Response
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// When: the client converts it back
	back := decoded.Error.AsAtrium()

	// Then: it is still a conflict with the same code
	assert.True(t, aerrors.IsConflict(back))
	assert.Equal(t, aerrors.ErrCodeBusy, aerrors.GetCode(back))
}

func TestError_AsAtriumWithoutData(t *testing.T) {
	e := &Error{Code: ErrCodeMethodNotFound, Message: "method not found: x"}

	assert.Equal(t, e, e.AsAtrium())
	assert.Contains(t, e.Error(), "-32601")
}

func TestJobListParams_Filter(t *testing.T) {
	f, err := JobListParams{Type: "upload", Status: "running"}.Filter()
	require.NoError(t, err)
	assert.Equal(t, jobs.Filter{Type: jobs.TypeUpload, Status: jobs.StatusRunning}, f)

	_, err = JobListParams{Type: "compaction"}.Filter()
	assert.True(t, aerrors.IsValidation(err))
}

func TestDecodeParams_AcceptsMissingParams(t *testing.T) {
	var p JobParams
	require.NoError(t, decodeParams(nil, &p))
	require.NoError(t, decodeParams(json.RawMessage("null"), &p))
	require.Error(t, decodeParams(json.RawMessage(`{"id":`), &p))
	require.Error(t, p.Validate())
}
