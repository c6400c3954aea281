package tools

import (
	"context"
	"testing"
	"time"

	"github.com/harun/panbeh/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(config.DefaultConfig().Catalog, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(config.CatalogConfig{}, zerolog.Nop())
	assert.Error(t, err)

	cfg := config.DefaultConfig().Catalog
	cfg.DefaultServerID = "fr-1"
	_, err = NewCatalog(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestPingDomain(t *testing.T) {
	c := newTestCatalog(t)

	res := c.PingDomain(context.Background(), Args{"domain": "de1.panbeh.vpn"})
	assert.True(t, res.OK)
	assert.Equal(t, CardPing, res.Type)
	assert.True(t, res.Payload.(PingPayload).Success)
	assert.Equal(t, "Ping check for de1.panbeh.vpn was successful.", res.Summary)

	res = c.PingDomain(context.Background(), Args{"domain": "sub.PanbehPanel.ir"})
	assert.True(t, res.OK)
	assert.False(t, res.Payload.(PingPayload).Success)
}

func TestServerHealth(t *testing.T) {
	c := newTestCatalog(t)

	res := c.ServerHealthTool(context.Background(), Args{"serverId": "us-1"})
	assert.True(t, res.OK)
	assert.Empty(t, res.Type)
	assert.Equal(t, ServerHealth{Load: "high", ResponseTime: "120ms"}, res.Payload)

	res = c.ServerHealthTool(context.Background(), Args{"serverId": "mars-1"})
	assert.Equal(t, ServerHealth{Load: "unknown", ResponseTime: "n/a"}, res.Payload)
	assert.Equal(t, "Health for server mars-1 is unknown.", res.Summary)
}

func TestSwitchServer(t *testing.T) {
	c := newTestCatalog(t)
	assert.Equal(t, "de-1", c.AssignedServer("alice"))

	res := c.SwitchServer(context.Background(), Args{"userName": "alice", "serverId": "tr-1"})
	assert.True(t, res.OK)
	assert.Equal(t, "tr-1", c.AssignedServer("alice"))

	res = c.SwitchServer(context.Background(), Args{"userName": "alice", "serverId": "mars-1"})
	assert.False(t, res.OK)
	assert.Equal(t, "tr-1", c.AssignedServer("alice"))
}

func TestAvailableServers(t *testing.T) {
	c := newTestCatalog(t)

	res := c.AvailableServers(context.Background(), nil)
	assert.Equal(t, CardServerList, res.Type)
	servers := res.Payload.([]Server)
	require.Len(t, servers, 4)
	assert.Equal(t, Server{ID: "de-1", Name: "Germany", Location: "🇩🇪", Health: "Good"}, servers[0])
}

func TestLogUnresolvedIssue(t *testing.T) {
	c := newTestCatalog(t)

	res := c.LogUnresolvedIssue(context.Background(), Args{"userName": "alice", "issueSummary": "cannot connect"})
	require.True(t, res.OK)

	tickets := c.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "alice", tickets[0].Username)
	assert.Len(t, tickets[0].ID, 21)
	assert.Equal(t, tickets[0].ID, res.Payload.(map[string]interface{})["ticket_id"])
}

func TestDownloadLinksAndAnnouncements(t *testing.T) {
	c := newTestCatalog(t)

	res := c.ClientDownloadLinks(context.Background(), nil)
	links := res.Payload.(map[string]interface{})["links"].(map[string]DownloadLink)
	assert.Equal(t, "V2RayNG", links["android"].ClientName)

	res = c.SystemAnnouncements(context.Background(), nil)
	assert.Len(t, res.Payload.(map[string]interface{})["announcements"], 2)
}

func TestSimulatedLatencyHonoursContext(t *testing.T) {
	cfg := config.DefaultConfig().Catalog
	cfg.SimulatedLatencyMs = 5000
	c, err := NewCatalog(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := c.AvailableServers(ctx, nil)
	assert.False(t, res.OK)
	assert.Less(t, time.Since(start), time.Second)
}
