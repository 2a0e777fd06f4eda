package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's
// standard shell-style substitution. Supports both ${VAR} and $VAR.
// Missing variables expand to empty string; Validator catches required
// fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
