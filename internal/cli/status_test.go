package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/callguard/internal/config"
)

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()

	t.Run("stopped without PID file", func(t *testing.T) {
		output, err := runCommand(t, "status", "--pid-file", filepath.Join(dir, "missing.pid"))
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
	})

	t.Run("running for live PID", func(t *testing.T) {
		path := filepath.Join(dir, "callguard.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

		output, err := runCommand(t, "status", "--pid-file", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, output, "Uptime:")
	})
}

func TestStopCommandNotRunning(t *testing.T) {
	_, err := runCommand(t, "stop", "--pid-file", filepath.Join(t.TempDir(), "missing.pid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestPrintMetricsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("callguard_idempotency_entries 0\n"))
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	t.Run("disabled", func(t *testing.T) {
		var out bytes.Buffer
		printMetricsStatus(context.Background(), &out, config.MetricsConfig{Addr: addr, Path: "/metrics"})
		assert.Equal(t, "Metrics: disabled\n", out.String())
	})

	t.Run("reachable", func(t *testing.T) {
		var out bytes.Buffer
		printMetricsStatus(context.Background(), &out, config.MetricsConfig{Enabled: true, Addr: addr, Path: "/metrics"})
		assert.Contains(t, out.String(), "(ok)")
	})

	t.Run("wrong path", func(t *testing.T) {
		var out bytes.Buffer
		printMetricsStatus(context.Background(), &out, config.MetricsConfig{Enabled: true, Addr: addr, Path: "/nope"})
		assert.Contains(t, out.String(), "unreachable: status 404")
	})
}

func TestWaitForExit(t *testing.T) {
	dir := t.TempDir()

	t.Run("returns once PID file is gone", func(t *testing.T) {
		assert.True(t, waitForExit(context.Background(), filepath.Join(dir, "missing.pid"), time.Second))
	})

	t.Run("times out while process lives", func(t *testing.T) {
		path := filepath.Join(dir, "live.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

		start := time.Now()
		assert.False(t, waitForExit(context.Background(), path, 150*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestStopFlags(t *testing.T) {
	timeout := stopCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeout)
	assert.Equal(t, "30s", timeout.DefValue)

	force := stopCmd.Flags().Lookup("force")
	require.NotNil(t, force)
	assert.Equal(t, "false", force.DefValue)
}
