package access

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/documents"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGrants serves grants from maps and counts lookups
type fakeGrants struct {
	services map[int64][]int64
	umgs     map[int64][]int64
	umgToSvc map[int64][]int64
	err      error
	calls    int
}

func (f *fakeGrants) GetUserServiceAccess(ctx context.Context, userID int64) ([]int64, error) {
	f.calls++
	return f.services[userID], f.err
}

func (f *fakeGrants) GetUserUmgAccess(ctx context.Context, userID int64) ([]int64, error) {
	return f.umgs[userID], nil
}

func (f *fakeGrants) ServiceIDsByUmgs(ctx context.Context, umgIDs []int64) ([]int64, error) {
	var out []int64
	for _, id := range umgIDs {
		out = append(out, f.umgToSvc[id]...)
	}
	return out, nil
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func sampleGrants() *fakeGrants {
	return &fakeGrants{
		services: map[int64][]int64{1: {5, 2}, 2: {}},
		umgs:     map[int64][]int64{1: {10}, 3: {10}},
		umgToSvc: map[int64][]int64{10: {2, 7}},
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("direct")
	require.NoError(t, err)
	assert.Equal(t, ScopeDirect, p)

	_, err = ParsePolicy("everything")
	assert.Error(t, err)
}

func TestGate_VisibleServiceIDs(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		userID int64
		want   []int64
	}{
		{"direct only", ScopeDirect, 1, []int64{2, 5}},
		{"umg adds services", ScopeIncludeUmg, 1, []int64{2, 5, 7}},
		{"umg grant alone", ScopeIncludeUmg, 3, []int64{2, 7}},
		{"umg ignored under direct policy", ScopeDirect, 3, []int64{}},
		{"unknown user", ScopeIncludeUmg, 99, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(nil, sampleGrants(), tt.policy, nil, nil)
			got, err := gate.VisibleServiceIDs(context.Background(), tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_ScopeMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gate := NewGate(nil, sampleGrants(), ScopeDirect, nil, metrics)

	_, err := gate.VisibleServiceIDs(context.Background(), 1)
	require.NoError(t, err)
	_, err = gate.VisibleServiceIDs(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScopeResolutionsTotal.WithLabelValues("scoped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScopeResolutionsTotal.WithLabelValues("empty")))
}

func TestGate_ScopeIsCachedUntilInvalidated(t *testing.T) {
	grants := sampleGrants()
	local := cache.NewLocal(64, time.Minute, nil)
	gate := NewGate(nil, grants, ScopeDirect, local, nil)
	ctx := context.Background()

	first, err := gate.VisibleServiceIDs(ctx, 1)
	require.NoError(t, err)
	grants.services[1] = []int64{9}

	second, err := gate.VisibleServiceIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, grants.calls)

	require.NoError(t, local.Invalidate(ctx))
	third, err := gate.VisibleServiceIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, third)
}

func TestGate_EmptyScopeNeverQueries(t *testing.T) {
	db, mock := setupMockDB(t)
	gate := NewGate(db, sampleGrants(), ScopeIncludeUmg, nil, nil)
	ctx := context.Background()

	docs, err := gate.GetDocumentsByUserAccess(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	objects, err := gate.GetObjectsByUserAccess(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, objects)
	assert.Empty(t, objects)

	ok, err := gate.DocumentAllowed(ctx, 2, 1, documents.RightView)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGate_ScopeFailurePropagates(t *testing.T) {
	boom := errors.New("connection refused")
	gate := NewGate(nil, &fakeGrants{err: boom}, ScopeDirect, nil, nil)

	_, err := gate.GetDocumentsByUserAccess(context.Background(), 1)
	assert.ErrorIs(t, err, boom)

	ok, err := gate.ObjectAllowed(context.Background(), 1, 1, documents.RightView)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestGate_GetDocumentsByUserAccess(t *testing.T) {
	db, mock := setupMockDB(t)
	gate := NewGate(db, sampleGrants(), ScopeDirect, nil, nil)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents d WHERE EXISTS (SELECT 1 FROM document_services sg WHERE sg.document_id = d.id AND sg.service_id = ANY($1) AND sg.can_view) ORDER BY d.created_at DESC`)).
		WithArgs(pq.Array([]int64{2, 5})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "file_name", "category_id", "umg_id", "object_id",
			"version", "tags", "uploaded_by", "text_content", "created_at", "updated_at"}).
			AddRow(1, "Pump manual", "pump.pdf", 1, 1, nil, 1, "{}", nil, "", now, now))

	docs, err := gate.GetDocumentsByUserAccess(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Pump manual", docs[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGate_ListObjectsWithFilter(t *testing.T) {
	db, mock := setupMockDB(t)
	gate := NewGate(db, sampleGrants(), ScopeDirect, nil, nil)
	umg := int64(4)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pipeline_objects o WHERE EXISTS (SELECT 1 FROM object_services sg WHERE sg.object_id = o.id AND sg.service_id = ANY($1) AND sg.can_view) AND o.umg_id = $2 AND o.status = $3 ORDER BY o.name, o.id LIMIT $4 OFFSET $5`)).
		WithArgs(pq.Array([]int64{2, 5}), int64(4), "active", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "umg_id", "name", "type", "qr_code", "status", "location", "created_at", "updated_at"}))

	objects, err := gate.ListObjects(context.Background(), 1, ListFilter{UmgID: &umg, Status: documents.ObjectActive, Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGate_DocumentAllowed(t *testing.T) {
	db, mock := setupMockDB(t)
	gate := NewGate(db, sampleGrants(), ScopeDirect, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM documents d WHERE d.id = $1 AND EXISTS (SELECT 1 FROM document_services sg WHERE sg.document_id = d.id AND sg.service_id = ANY($2) AND sg.can_delete))`)).
		WithArgs(int64(8), pq.Array([]int64{2, 5})).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := gate.DocumentAllowed(context.Background(), 1, 8, documents.RightDelete)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredicates(t *testing.T) {
	assert.Contains(t, DocumentScope(3), "ANY($3)")
	assert.Contains(t, ObjectScope(1), "object_services")
	assert.Contains(t, objectTarget.predicate(1, documents.RightDelete), "sg.can_edit",
		"objects have no delete flag")
	assert.Equal(t, "FALSE", documentTarget.predicate(1, documents.Right("own")))
}
