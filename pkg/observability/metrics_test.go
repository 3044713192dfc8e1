package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}).Methods("GET")

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/documents/"+id, nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/documents/{id}", "403")))
}

func TestRecordDBStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordDBStats(sql.DBStats{
		OpenConnections: 5,
		InUse:           2,
		Idle:            3,
		WaitDuration:    1500 * time.Millisecond,
	})

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.DBConnectionsOpen))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DBConnectionsInUse))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.DBConnectionsIdle))
	assert.Equal(t, float64(1500), testutil.ToFloat64(metrics.DBConnectionsWaitMs))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.AuditWriteFailuresTotal.Inc()

	m := http.NewServeMux()
	RegisterMetricsEndpoint(m, registry)

	w := httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docvault_audit_write_failures_total 1")
}
