package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForCLI_BusyError(t *testing.T) {
	// Given: a busy error wrapped by a caller
	err := fmt.Errorf("start build: %w", BusyError("/srv/index"))

	// When: formatting for the terminal
	out := FormatForCLI(err)

	// Then: message, details, hint and code each get a line
	assert.Equal(t, "Error: a build or repair is already running for this index root\n"+
		"  index_root: /srv/index\n"+
		"  Hint: Wait for the running job to finish, then retry\n"+
		"  Code: "+ErrCodeBusy+"\n", out)
}

func TestFormatForCLI_ShowsCauseOnce(t *testing.T) {
	cause := errors.New("permission denied")

	withCause := FormatForCLI(New(ErrCodeCorruptIndex, "search index is corrupted", cause))
	wrapped := FormatForCLI(Wrap(ErrCodeCorruptIndex, cause))

	assert.Contains(t, withCause, "  Cause: permission denied\n")
	assert.NotContains(t, wrapped, "Cause:")
}

func TestFormatForCLI_PlainAndNil(t *testing.T) {
	assert.Equal(t, "Error: something went wrong\n", FormatForCLI(errors.New("something went wrong")))
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	t.Run("coded error", func(t *testing.T) {
		attrs := LogAttrs(NotFoundError("job", "42"))

		assert.Contains(t, attrs, slog.String("error_code", ErrCodeJobNotFound))
		assert.Contains(t, attrs, slog.String("category", string(CategoryNotFound)))
		assert.Contains(t, attrs, slog.String("detail_job_id", "42"))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, []any{slog.String("error", "plain")}, LogAttrs(errors.New("plain")))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, LogAttrs(nil))
	})
}
