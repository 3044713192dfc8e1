package audit

import (
	"context"

	"github.com/gaspipe/docvault/pkg/observability"
)

// StreamLogger mirrors audit entries onto the structured application log
// so they reach log shipping even when the database write fails.
type StreamLogger struct {
	logger *observability.Logger
}

// NewStreamLogger creates a logger that writes entries as JSON log lines
func NewStreamLogger(logger *observability.Logger) *StreamLogger {
	return &StreamLogger{logger: logger.WithField("component", "audit")}
}

func (s *StreamLogger) Log(ctx context.Context, entry *Entry) error {
	fields := map[string]interface{}{
		"action":      string(entry.Action),
		"resource":    string(entry.Resource),
		"resource_id": entry.ResourceID,
		"success":     entry.Success,
		"ip_address":  entry.IPAddress,
	}
	if entry.UserID != nil {
		fields["actor_id"] = *entry.UserID
	}
	for k, v := range entry.Details {
		fields["detail_"+k] = v
	}
	s.logger.WithFields(fields).Info("audit")
	return nil
}

func (s *StreamLogger) Close() error {
	return nil
}
