// Package logging sets up structured slog output for Atrium.
//
// Logs are JSON lines written to a size-rotated file under ~/.atrium/logs/
// and, unless running as an MCP stdio server, mirrored to stderr.
package logging
