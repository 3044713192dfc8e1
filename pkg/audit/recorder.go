package audit

import (
	"context"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
)

// Outcome reports a mutation and its audit write separately. A failed
// audit write never turns a completed mutation into a failure.
type Outcome struct {
	Err      error
	AuditErr error
}

// OK reports whether the primary operation succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Recorder writes one audit entry after each state-changing operation
type Recorder struct {
	logger  Logger
	metrics *observability.Metrics
	log     *observability.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder. metrics and log may be nil.
func NewRecorder(logger Logger, metrics *observability.Metrics, log *observability.Logger) *Recorder {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Recorder{
		logger:  logger,
		metrics: metrics,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record writes entry for an operation that has already completed with opErr.
// Success, Timestamp and missing client details are filled in here.
func (r *Recorder) Record(ctx context.Context, entry Entry, opErr error) Outcome {
	entry.Success = opErr == nil
	entry.Timestamp = r.now()

	if entry.IPAddress == "" && entry.UserAgent == "" {
		info := ClientInfoFromContext(ctx)
		entry.IPAddress = info.IPAddress
		entry.UserAgent = info.UserAgent
	}
	if opErr != nil {
		if entry.Details == nil {
			entry.Details = map[string]interface{}{}
		}
		entry.Details["error"] = opErr.Error()
	}

	// A cancelled request must not drop the row for a mutation that already committed.
	auditErr := r.logger.Log(context.WithoutCancel(ctx), &entry)
	if auditErr != nil {
		if r.metrics != nil {
			r.metrics.AuditWriteFailuresTotal.Inc()
		}
		if r.log != nil {
			r.log.WithError(auditErr).
				WithField("action", string(entry.Action)).
				WithField("resource", string(entry.Resource)).
				WithField("resource_id", entry.ResourceID).
				Error("failed to write audit entry")
		}
	} else if r.metrics != nil {
		r.metrics.AuditWritesTotal.WithLabelValues(string(entry.Action)).Inc()
	}

	return Outcome{Err: opErr, AuditErr: auditErr}
}
