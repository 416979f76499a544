// Package configs embeds the configuration templates written by
// `atrium init`.
//
//   - project-config.example.yaml becomes .atrium.yaml in a project.
//   - user-config.example.yaml becomes ~/.config/atrium/config.yaml.
//
// Both must load cleanly through config.Load.
package configs

import _ "embed"

// UserConfigTemplate holds machine-wide settings: server address, socket
// and log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate holds project settings with the built-in defaults
// spelled out.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
