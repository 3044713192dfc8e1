package audit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLogger captures entries for assertions
type memoryLogger struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memoryLogger) Log(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryLogger) Close() error { return nil }

func TestRecorder_RecordsSuccess(t *testing.T) {
	sink := &memoryLogger{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	rec := NewRecorder(sink, metrics, nil)
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	userID := int64(4)
	out := rec.Record(context.Background(), Entry{
		UserID:     &userID,
		Action:     ActionCreate,
		Resource:   ResourceObject,
		ResourceID: "9",
	}, nil)

	assert.True(t, out.OK())
	assert.NoError(t, out.AuditErr)
	require.Len(t, sink.entries, 1)
	assert.True(t, sink.entries[0].Success)
	assert.Equal(t, fixed, sink.entries[0].Timestamp)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("create")))
}

func TestRecorder_RecordsFailedMutation(t *testing.T) {
	sink := &memoryLogger{}
	rec := NewRecorder(sink, nil, nil)

	opErr := errors.New("resource in use")
	out := rec.Record(context.Background(), Entry{Action: ActionDelete, Resource: ResourceService, ResourceID: "2"}, opErr)

	assert.ErrorIs(t, out.Err, opErr)
	assert.False(t, out.OK())
	require.Len(t, sink.entries, 1)
	assert.False(t, sink.entries[0].Success)
	assert.Equal(t, "resource in use", sink.entries[0].Details["error"])
}

func TestRecorder_AuditFailureDoesNotFailMutation(t *testing.T) {
	sink := &memoryLogger{err: errors.New("audit table locked")}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var buf bytes.Buffer
	rec := NewRecorder(sink, metrics, observability.NewLogger(observability.InfoLevel, &buf))

	out := rec.Record(context.Background(), Entry{Action: ActionUpdate, Resource: ResourceDocument}, nil)

	assert.True(t, out.OK())
	assert.Error(t, out.AuditErr)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWriteFailuresTotal))
	assert.Contains(t, buf.String(), "failed to write audit entry")
}

func TestRecorder_UsesClientInfoFromContext(t *testing.T) {
	sink := &memoryLogger{}
	rec := NewRecorder(sink, nil, nil)

	var captured context.Context
	h := ClientInfoMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
	}))
	r := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.Header.Set("User-Agent", "docvault-mobile/1.2")
	h.ServeHTTP(httptest.NewRecorder(), r)

	rec.Record(captured, Entry{Action: ActionQRScan, Resource: ResourceObject}, nil)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "203.0.113.5", sink.entries[0].IPAddress)
	assert.Equal(t, "docvault-mobile/1.2", sink.entries[0].UserAgent)
}

func TestRecorder_WritesAfterCancellation(t *testing.T) {
	sink := &memoryLogger{}
	rec := NewRecorder(sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := rec.Record(ctx, Entry{Action: ActionDelete, Resource: ResourceUser}, nil)

	assert.NoError(t, out.AuditErr)
	assert.Len(t, sink.entries, 1)
}

func TestNewRecorder_NilLoggerIsNoOp(t *testing.T) {
	out := NewRecorder(nil, nil, nil).Record(context.Background(), Entry{Action: ActionLogout}, nil)
	assert.NoError(t, out.AuditErr)
}
