package rbac

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	return log
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(quietLogger(), nil)

	assert.True(t, r.Valid("documents", "view"))
	assert.True(t, r.Valid("audit", "view"))
	assert.False(t, r.Valid("documents", "publish"))
	assert.False(t, r.Valid("Documents", "view"))
	assert.False(t, r.Valid("dashboard", "delete"))

	err := r.Validate("reports", "view")
	assert.True(t, errors.Is(err, ErrUnknownCapability))

	caps := r.Capabilities()
	require.NotEmpty(t, caps)
	assert.Equal(t, Capability{Module: "audit", Action: "export"}, caps[0])
}

func TestRegistry_LoadFile(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(quietLogger(), metrics)
	path := filepath.Join(t.TempDir(), "capabilities.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  - name: dashboard
    actions: [export]
`), 0o644))
	require.NoError(t, r.LoadFile(path))
	assert.True(t, r.Valid("dashboard", "export"))
	assert.True(t, r.Valid("dashboard", "view"), "defaults are kept")

	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  - name: reports
    actions: [view]
`), 0o644))
	err := r.LoadFile(path)
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.True(t, r.Valid("dashboard", "export"), "previous set stays in effect")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryReloadsTotal.WithLabelValues("error")))
}

func TestParseRegistryFile_RejectsUnknownAction(t *testing.T) {
	_, err := ParseRegistryFile([]byte("modules:\n  - name: documents\n    actions: [approve]\n"))
	assert.ErrorIs(t, err, ErrUnknownCapability)

	_, err = ParseRegistryFile([]byte("modules: [unclosed"))
	assert.Error(t, err)
}

func TestRegistry_Watch(t *testing.T) {
	r := NewRegistry(quietLogger(), nil)
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: []\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  - name: training\n    actions: [export]\n"), 0o644))

	require.Eventually(t, func() bool { return r.Valid("training", "export") }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
