// Package configs embeds the configuration template written by
// 'metafind config init'.
//
// Precedence of the settings it documents (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config (~/.config/metafind/config.yaml)
//  3. Project config (.metafind.yaml, nearest parent directory)
//  4. Environment variables (METAFIND_*)
//  5. Command-line flags
package configs

import _ "embed"

// ConfigTemplate is the commented example configuration. It is valid YAML
// whose values equal the built-in defaults.
//
//go:embed config.example.yaml
var ConfigTemplate string
