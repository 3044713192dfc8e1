package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdownManager_RunsFuncsInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	var order []string
	for _, name := range []string{"database", "cache", "tracing"} {
		name := name
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"tracing", "cache", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)

	ran := false
	sm.RegisterShutdownFunc("database", func(ctx context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("cache", func(ctx context.Context) error {
		return errors.New("connection reset")
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: connection reset")
	assert.True(t, ran, "a failing func does not stop the rest")
	assert.Contains(t, buf.String(), "Shutdown of cache failed")
}

func TestShutdownManager_DrainsServers(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()
	sm.AddServer("api", ts.Config)

	require.NoError(t, sm.Shutdown())

	_, err := http.Get(ts.URL)
	assert.Error(t, err, "server no longer accepts connections")
}
