package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger fans an entry out to several loggers. Every logger is
// attempted even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to all given loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes to every logger and joins their errors
func (m *MultiLogger) Log(ctx context.Context, entry *Entry) error {
	var errs []error
	for i, logger := range m.loggers {
		if err := logger.Log(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("logger %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger and joins their errors
func (m *MultiLogger) Close() error {
	var errs []error
	for i, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
