package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/harun/panbeh/internal/config"
	"github.com/harun/panbeh/internal/logger"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/harun/panbeh/pkg/panel"
	"github.com/harun/panbeh/pkg/panel/paneltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct{}

func (echoProvider) Provider() string { return "stub" }

func (echoProvider) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &agent.LLMResponse{Content: "echo: " + last.Content}, nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T, upstream *paneltest.Server) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Panel.BaseURL = upstream.URL
	cfg.Panel.Username = "admin"
	cfg.Panel.Password = "secret"
	cfg.AI.Provider = "anthropic"
	cfg.AI.APIKey = "sk-test-key"
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freePort(t)
	cfg.Gateway.ShutdownTimeoutSeconds = 2
	cfg.Logging.Console = false
	return cfg
}

// createTestDaemon builds a daemon against a stub panel and a scripted engine.
func createTestDaemon(t *testing.T) (*Daemon, *paneltest.Server) {
	t.Helper()

	original := newProvider
	newProvider = func(context.Context, string, string) (agent.LLMProvider, error) {
		return echoProvider{}, nil
	}
	t.Cleanup(func() { newProvider = original })

	upstream := paneltest.NewServer()
	t.Cleanup(upstream.Close)

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := New(testConfig(t, upstream), log)
	require.NoError(t, err)
	return d, upstream
}

func TestNew(t *testing.T) {
	d, _ := createTestDaemon(t)

	assert.NotNil(t, d.tokens)
	assert.NotNil(t, d.panel)
	assert.NotNil(t, d.catalog)
	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.sessions)
	assert.NotNil(t, d.sweeper)
	assert.NotNil(t, d.gateway)
	assert.NotNil(t, d.lifecycle)
	assert.Equal(t, "stub", d.provider.Provider())
}

func TestNew_InvalidConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	cfg := config.DefaultConfig()
	_, err = New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_ProviderError(t *testing.T) {
	upstream := paneltest.NewServer()
	defer upstream.Close()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig(t, upstream)
	cfg.AI.APIKey = ""

	_, err = New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := createTestDaemon(t)

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.Addr)
	assert.True(t, d.lifecycle.IsRunning())

	require.NoError(t, d.Stop())

	status = d.Status()
	assert.False(t, status.Running)
	_, err := os.Stat(d.lifecycle.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemonStartTwice(t *testing.T) {
	d, _ := createTestDaemon(t)

	require.NoError(t, d.Start())
	defer d.Stop()

	err := d.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	d, _ := createTestDaemon(t)
	assert.Error(t, d.Stop())
}

func TestDaemonStatus(t *testing.T) {
	d, _ := createTestDaemon(t)

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.Empty(t, d.Addr())

	require.NoError(t, d.Start())
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	status = d.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
	assert.Equal(t, d.Addr(), status.Addr)
}

func TestDaemonServesGateway(t *testing.T) {
	d, upstream := createTestDaemon(t)
	upstream.AddUser(panel.User{Username: "ali", DataLimit: 10 * panel.GB})

	require.NoError(t, d.Start())
	defer d.Stop()

	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/marzban/user/ali")
	require.NoError(t, err)
	var user panel.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ali", user.Username)

	resp, err = http.Post(base+"/api/chat/sessions", "application/json",
		strings.NewReader(`{"client_id":"tab-1"}`))
	require.NoError(t, err)
	var view struct {
		SessionID string          `json:"session_id"`
		Messages  []agent.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, agent.GuestWelcome, view.Messages[0].Content)

	resp, err = http.Post(fmt.Sprintf("%s/api/chat/sessions/%s/messages", base, view.SessionID),
		"application/json", strings.NewReader(`{"text":"salam"}`))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "echo: salam", view.Messages[1].Content)

	assert.Equal(t, 1, d.Status().Sessions)
}

func TestDaemonGetters(t *testing.T) {
	d, _ := createTestDaemon(t)

	assert.NotNil(t, d.GetConfig())
	assert.NotNil(t, d.GetSessionManager())
	assert.NotNil(t, d.GetPanelClient())
	assert.NotNil(t, d.GetTokenCache())
	assert.NotNil(t, d.GetCatalog())
}
