package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Options(t *testing.T) {
	var buf bytes.Buffer

	cfg := NewConfig(&buf, WithForcePlain(true), WithNoColor(true))

	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.False(t, cfg.Interactive())
}

func TestNewConfig_RespectsNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	cfg := NewConfig(&bytes.Buffer{})

	assert.True(t, cfg.NoColor)
}

func TestIsTTY_NonFileWriter(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY((*os.File)(nil)))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")

	assert.True(t, DetectCI())
}

func TestGetStyles_NoColorRendersPlainText(t *testing.T) {
	s := GetStyles(true)

	assert.Equal(t, "ready", s.Success.Render("ready"))
	assert.Equal(t, "oops", s.Error.Render("oops"))
}
