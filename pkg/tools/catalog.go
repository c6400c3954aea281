package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/panbeh/internal/config"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Server is one entry of the server list card.
type Server struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Health   string `json:"health"`
}

// ServerHealth is the payload of get_server_health.
type ServerHealth struct {
	Load         string `json:"load"`
	ResponseTime string `json:"response_time"`
}

// DownloadLink is one client application.
type DownloadLink struct {
	URL        string `json:"url"`
	ClientName string `json:"client_name"`
}

// Ticket is a support issue the assistant could not resolve.
type Ticket struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Summary  string    `json:"summary"`
	Created  time.Time `json:"created"`
}

// Catalog is the local, in-memory data behind the simulated tools.
// Assignments, rewards and tickets live for the life of the process.
type Catalog struct {
	servers       []config.ServerConfig
	byID          map[string]config.ServerConfig
	defaultServer string
	announcements []string
	downloads     []config.DownloadLinkConfig
	blocked       []string
	rewardGB      int
	latency       time.Duration

	mu          sync.Mutex
	assignments map[string]string
	rewards     map[string]time.Time
	tickets     []Ticket

	now    func() time.Time
	logger zerolog.Logger
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(cfg config.CatalogConfig, logger zerolog.Logger) (*Catalog, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("catalog needs at least one server")
	}

	c := &Catalog{
		servers:       cfg.Servers,
		byID:          make(map[string]config.ServerConfig, len(cfg.Servers)),
		defaultServer: cfg.DefaultServerID,
		announcements: cfg.Announcements,
		downloads:     cfg.DownloadLinks,
		blocked:       cfg.BlockedDomains,
		rewardGB:      cfg.RewardBonusGB,
		latency:       time.Duration(cfg.SimulatedLatencyMs) * time.Millisecond,
		assignments:   make(map[string]string),
		rewards:       make(map[string]time.Time),
		now:           time.Now,
		logger:        logger.With().Str("component", "catalog").Logger(),
	}
	for _, s := range cfg.Servers {
		c.byID[s.ID] = s
	}
	if c.defaultServer == "" {
		c.defaultServer = cfg.Servers[0].ID
	}
	if _, ok := c.byID[c.defaultServer]; !ok {
		return nil, fmt.Errorf("default server %s is not in the catalog", c.defaultServer)
	}

	return c, nil
}

// simulate waits for the configured latency, honouring ctx.
func (c *Catalog) simulate(ctx context.Context) error {
	if c.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(c.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reachable reports whether domain is reachable from inside Iran.
func (c *Catalog) Reachable(domain string) bool {
	d := strings.ToLower(domain)
	for _, fragment := range c.blocked {
		if fragment != "" && strings.Contains(d, strings.ToLower(fragment)) {
			return false
		}
	}
	return true
}

// Servers lists every server in catalog order.
func (c *Catalog) Servers() []Server {
	out := make([]Server, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, Server{ID: s.ID, Name: s.Name, Location: s.Location, Health: s.Health})
	}
	return out
}

// Health returns the load of one server. Unknown ids report "unknown".
func (c *Catalog) Health(serverID string) (ServerHealth, bool) {
	s, ok := c.byID[serverID]
	if !ok {
		return ServerHealth{Load: "unknown", ResponseTime: "n/a"}, false
	}
	return ServerHealth{Load: s.Load, ResponseTime: fmt.Sprintf("%dms", s.ResponseTimeMs)}, true
}

// HasServer reports whether serverID exists.
func (c *Catalog) HasServer(serverID string) bool {
	_, ok := c.byID[serverID]
	return ok
}

// AssignedServer returns the server a user is on.
func (c *Catalog) AssignedServer(username string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.assignments[username]; ok {
		return id
	}
	return c.defaultServer
}

// Assign moves a user to serverID.
func (c *Catalog) Assign(username, serverID string) error {
	if !c.HasServer(serverID) {
		return fmt.Errorf("unknown server %s", serverID)
	}
	c.mu.Lock()
	c.assignments[username] = serverID
	c.mu.Unlock()
	return nil
}

// RewardGranted reports whether the milestone reward was already given.
func (c *Catalog) RewardGranted(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rewards[username]
	return ok
}

// claimReward marks the reward as granted. It returns false if it already was.
func (c *Catalog) claimReward(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rewards[username]; ok {
		return false
	}
	c.rewards[username] = c.now()
	return true
}

func (c *Catalog) releaseReward(username string) {
	c.mu.Lock()
	delete(c.rewards, username)
	c.mu.Unlock()
}

// RewardBonusGB is the traffic added by grant_reward.
func (c *Catalog) RewardBonusGB() int {
	return c.rewardGB
}

// Announcements returns the current system news.
func (c *Catalog) Announcements() []string {
	out := make([]string, len(c.announcements))
	copy(out, c.announcements)
	return out
}

// DownloadLinks returns client downloads keyed by platform.
func (c *Catalog) DownloadLinks() map[string]DownloadLink {
	out := make(map[string]DownloadLink, len(c.downloads))
	for _, d := range c.downloads {
		out[d.Platform] = DownloadLink{URL: d.URL, ClientName: d.ClientName}
	}
	return out
}

// LogIssue records a support ticket.
func (c *Catalog) LogIssue(username, summary string) (Ticket, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to generate ticket id: %w", err)
	}

	ticket := Ticket{ID: id, Username: username, Summary: summary, Created: c.now()}

	c.mu.Lock()
	c.tickets = append(c.tickets, ticket)
	c.mu.Unlock()

	c.logger.Warn().
		Str("ticket_id", id).
		Str("username", username).
		Str("issue", summary).
		Msg("Support ticket logged")

	return ticket, nil
}

// Tickets returns every ticket logged so far.
func (c *Catalog) Tickets() []Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Ticket, len(c.tickets))
	copy(out, c.tickets)
	return out
}
