package audit

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileLogger appends audit events as newline-delimited JSON to a file
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileLogger opens (or creates) the audit log file for appending
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileLogger{file: file}, nil
}

// Log appends one event as a JSON line
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
