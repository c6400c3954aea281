package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Config represents the main Panbeh configuration
type Config struct {
	// Upstream subscription panel
	Panel PanelConfig `json:"panel" mapstructure:"panel"`

	// Reasoning engine
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// HTTP gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Content API pass-through
	Content ContentConfig `json:"content" mapstructure:"content"`

	// Assistant sessions
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Local data backing the simulated tools
	Catalog CatalogConfig `json:"catalog" mapstructure:"catalog"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// PanelConfig holds the upstream panel connection.
type PanelConfig struct {
	BaseURL               string                            `json:"base_url" mapstructure:"base_url"`
	Username              string                            `json:"username" mapstructure:"username"`
	Password              string                            `json:"password" mapstructure:"password"`
	TokenTTLSeconds       int                               `json:"token_ttl_seconds" mapstructure:"token_ttl_seconds"`
	SafetyMarginSeconds   int                               `json:"safety_margin_seconds" mapstructure:"safety_margin_seconds"`
	RequestTimeoutSeconds int                               `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	DefaultProxies        map[string]map[string]interface{} `json:"default_proxies" mapstructure:"default_proxies"`
}

// TokenTTL returns the assumed credential lifetime.
func (p PanelConfig) TokenTTL() time.Duration {
	return time.Duration(p.TokenTTLSeconds) * time.Second
}

// SafetyMargin returns how early a credential is refreshed.
func (p PanelConfig) SafetyMargin() time.Duration {
	return time.Duration(p.SafetyMarginSeconds) * time.Second
}

// RequestTimeout returns the per-call panel timeout.
func (p PanelConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// AIConfig selects and tunes the reasoning engine.
type AIConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	Model          string  `json:"model" mapstructure:"model"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxToolRounds  int     `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout bounds one engine call.
func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// GatewayConfig holds HTTP server settings
type GatewayConfig struct {
	Host                   string   `json:"host" mapstructure:"host"`
	Port                   int      `json:"port" mapstructure:"port"`
	RateLimitPerMinute     int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	AllowedOrigins         []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// ContentConfig points at the blog/testimonial content service.
type ContentConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// SessionConfig controls assistant session lifetime.
type SessionConfig struct {
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes" mapstructure:"idle_timeout_minutes"`
	SweepSchedule      string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// IdleTimeout returns how long an unused session is kept.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// ServerConfig describes one VPN exit server.
type ServerConfig struct {
	ID             string `json:"id" mapstructure:"id"`
	Name           string `json:"name" mapstructure:"name"`
	Location       string `json:"location" mapstructure:"location"`
	Health         string `json:"health" mapstructure:"health"`
	Load           string `json:"load" mapstructure:"load"`
	ResponseTimeMs int    `json:"response_time_ms" mapstructure:"response_time_ms"`
}

// DownloadLinkConfig is one client app download.
type DownloadLinkConfig struct {
	Platform   string `json:"platform" mapstructure:"platform"`
	ClientName string `json:"client_name" mapstructure:"client_name"`
	URL        string `json:"url" mapstructure:"url"`
}

// CatalogConfig feeds the locally computed tools.
type CatalogConfig struct {
	Servers            []ServerConfig       `json:"servers" mapstructure:"servers"`
	DefaultServerID    string               `json:"default_server_id" mapstructure:"default_server_id"`
	Announcements      []string             `json:"announcements" mapstructure:"announcements"`
	DownloadLinks      []DownloadLinkConfig `json:"download_links" mapstructure:"download_links"`
	BlockedDomains     []string             `json:"blocked_domains" mapstructure:"blocked_domains"`
	RewardBonusGB      int                  `json:"reward_bonus_gb" mapstructure:"reward_bonus_gb"`
	SimulatedLatencyMs int                  `json:"simulated_latency_ms" mapstructure:"simulated_latency_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" mapstructure:"service_name"`
	Endpoint     string  `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool    `json:"insecure" mapstructure:"insecure"`
	SamplingRate float64 `json:"sampling_rate" mapstructure:"sampling_rate"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			TokenTTLSeconds:       3600,
			SafetyMarginSeconds:   300,
			RequestTimeoutSeconds: 15,
			DefaultProxies: map[string]map[string]interface{}{
				"vless": {},
			},
		},
		AI: AIConfig{
			Provider:       "gemini",
			Model:          "gemini-2.5-flash",
			Temperature:    0.7,
			MaxTokens:      1024,
			MaxToolRounds:  8,
			TimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Host:                   "0.0.0.0",
			Port:                   3001,
			RateLimitPerMinute:     30,
			ShutdownTimeoutSeconds: 10,
		},
		Session: SessionConfig{
			IdleTimeoutMinutes: 30,
			SweepSchedule:      "@every 5m",
		},
		Catalog: CatalogConfig{
			Servers: []ServerConfig{
				{ID: "de-1", Name: "Germany", Location: "🇩🇪", Health: "Good", Load: "low", ResponseTimeMs: 25},
				{ID: "us-1", Name: "USA", Location: "🇺🇸", Health: "High Load", Load: "high", ResponseTimeMs: 120},
				{ID: "tr-1", Name: "Turkey", Location: "🇹🇷", Health: "Optimal", Load: "medium", ResponseTimeMs: 45},
				{ID: "jp-1", Name: "Japan", Location: "🇯🇵", Health: "Good", Load: "low", ResponseTimeMs: 90},
			},
			DefaultServerID: "de-1",
			Announcements: []string{
				"یک سرور جدید و پرسرعت در **ترکیه** اضافه کردیم که برای بازی و استریم عالیه!",
				"قابلیت تغییر سرور از طریق چت‌بات فعال شده است.",
			},
			DownloadLinks: []DownloadLinkConfig{
				{Platform: "android", ClientName: "V2RayNG", URL: "https://panbeh.vpn/android-latest.apk"},
				{Platform: "windows", ClientName: "NekoRay", URL: "https://panbeh.vpn/windows-latest.exe"},
				{Platform: "ios", ClientName: "V2Box", URL: "https://apps.apple.com/us/app/v2box-v2ray-client/id6446814690"},
			},
			BlockedDomains: []string{"panbehpanel.ir"},
			RewardBonusGB:  2,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName:  "panbeh",
			SamplingRate: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Panel.Password != "" {
		masked.Panel.Password = "********"
	}
	if masked.AI.APIKey != "" {
		masked.AI.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Panel.BaseURL == "" || c.Panel.Username == "" || c.Panel.Password == "" {
		return fmt.Errorf("panel base_url, username and password are required")
	}
	if u, err := url.Parse(c.Panel.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("panel base_url %q is not an absolute URL", c.Panel.BaseURL)
	}
	if c.Panel.TokenTTLSeconds <= c.Panel.SafetyMarginSeconds {
		return fmt.Errorf("panel token_ttl_seconds must exceed safety_margin_seconds")
	}
	if c.Panel.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("panel request_timeout_seconds must be positive")
	}

	switch c.AI.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("invalid AI provider %q (must be: gemini, openai, anthropic)", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("AI model is required")
	}
	if c.AI.MaxToolRounds <= 0 {
		return fmt.Errorf("AI max_tool_rounds must be positive")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Content.BaseURL != "" {
		if u, err := url.Parse(c.Content.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("content base_url %q is not an absolute URL", c.Content.BaseURL)
		}
	}

	if len(c.Catalog.Servers) == 0 {
		return fmt.Errorf("catalog must list at least one server")
	}
	seen := make(map[string]bool, len(c.Catalog.Servers))
	for i, s := range c.Catalog.Servers {
		if s.ID == "" {
			return fmt.Errorf("catalog server %d: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("catalog server %s: duplicate id", s.ID)
		}
		seen[s.ID] = true
	}
	if c.Catalog.DefaultServerID != "" && !seen[c.Catalog.DefaultServerID] {
		return fmt.Errorf("catalog default_server_id %s is not a listed server", c.Catalog.DefaultServerID)
	}

	return nil
}
