package config

import (
	"os"
)

// EnvironmentExpander expands environment variable placeholders within an
// input byte slice.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders with Go's os.ExpandEnv.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates a new OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand replaces ${VAR} or $VAR in the input with the value of the
// environment variable VAR. Unset variables become empty strings.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.ExpandEnv(string(input))), nil
}
