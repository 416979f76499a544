package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{DebounceWindow: 50 * time.Millisecond}.WithDefaults()

	assert.Equal(t, 50*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, opts.PollInterval)
	assert.Equal(t, DefaultOptions().EventBufferSize, opts.EventBufferSize)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.Error(t, Options{DebounceWindow: -time.Second}.Validate())
	assert.Error(t, Options{EventBufferSize: -1}.Validate())
}

func TestOptions_Accepts(t *testing.T) {
	opts := Options{Filter: func(name string) bool { return name != "notes.doc" }}

	assert.True(t, opts.accepts("anatomy.pdf"))
	assert.False(t, opts.accepts(".anatomy.pdf"))
	assert.False(t, opts.accepts("anatomy.pdf.tmp"))
	assert.False(t, opts.accepts("anatomy.pdf.part"))
	assert.False(t, opts.accepts("anatomy.pdf~"))
	assert.False(t, opts.accepts("notes.doc"))
	assert.True(t, Options{}.accepts("anything"))
}
