package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := fmt.Sprintf(`
app:
  environment: development
  log_level: panic
  log_format: text
server:
  host: 127.0.0.1
  port: %d
storage:
  dir: %s
scheduler:
  workers: 2
`, port, filepath.Join(dir, "storage"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfgPath := writeConfig(t, freePort(t))

	a, err := New(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, a.configs)
	require.NotNil(t, a.executions)
	require.NotNil(t, a.files)
	require.NotNil(t, a.scheduler)
	require.NotNil(t, a.metricsServer)
}

func TestStartStopServesHealthAndReady(t *testing.T) {
	port := freePort(t)
	cfgPath := writeConfig(t, port)

	a, err := New(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	// Give the HTTP server a moment to bind before polling it.
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/readyz", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestTestConnectionHandlerReturns404ForUnknownConfiguration(t *testing.T) {
	port := freePort(t)
	cfgPath := writeConfig(t, port)

	a, err := New(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/internal/configurations/T1/C1/test", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
