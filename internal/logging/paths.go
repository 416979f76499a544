package logging

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the Atrium state directory (default ~/.atrium).
const HomeEnv = "ATRIUM_HOME"

// DefaultHomeDir returns the Atrium state directory.
// Falls back to the temp directory if the home directory is unavailable.
func DefaultHomeDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".atrium")
	}
	return filepath.Join(home, ".atrium")
}

// DefaultLogDir returns the default log directory (~/.atrium/logs/).
func DefaultLogDir() string {
	return filepath.Join(DefaultHomeDir(), "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "atrium.log")
}
