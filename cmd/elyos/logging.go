package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// setupLogging sends the standard logger to stderr and, when path is set,
// appends the same lines to path. Rotation is left to the host (logrotate).
func setupLogging(path string, stderr io.Writer) (func() error, error) {
	log.SetOutput(stderr)
	if path == "" {
		return func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(stderr, f))
	return f.Close, nil
}
