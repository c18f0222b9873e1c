// Package log provides the logging surface used across the module,
// thin wrappers over github.com/luxfi/log so call sites never import
// the upstream package directly.
package log

import (
	luxlog "github.com/luxfi/log"
)

// Logger is the shared logging interface used throughout the module.
type Logger = luxlog.Logger

// NewNoOp returns a logger that discards everything, used in tests and
// components that have not been wired to a real sink yet.
func NewNoOp() Logger {
	return luxlog.NewNoOpLogger()
}

// New returns the structured logger for the given component.
func New(component string) Logger {
	return luxlog.NewLogger(component)
}
