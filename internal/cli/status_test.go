package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := execute(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path := writeConfig(t, map[string]interface{}{"data_dir": t.TempDir()})
		out, err := execute(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","uptime":12.5,"sessions":3}`))
	}))
	defer srv.Close()

	report, err := fetchHealth(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 3, report.Sessions)

	_, err = fetchHealth(srv.URL + "/missing")
	assert.Error(t, err)
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
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
