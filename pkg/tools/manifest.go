package tools

import (
	"fmt"

	"github.com/rs/zerolog"
)

// IdentifiedTools is the manifest offered to a signed-in user.
var IdentifiedTools = []string{
	"get_user_status",
	"get_connection_link",
	"create_subscription",
	"reset_user_traffic",
	"check_domain_ping_from_iran",
	"revoke_and_renew_link",
	"get_server_health",
	"get_available_servers",
	"switch_user_server",
	"grant_reward",
	"get_system_announcements",
	"log_unresolved_issue",
	"get_client_download_links",
}

// GuestTools is the manifest offered to an anonymous visitor.
var GuestTools = []string{
	"get_status_from_link",
	"check_domain_ping_from_iran",
	"get_client_download_links",
}

// MutatingTools lists every tool that changes account state.
var MutatingTools = []string{
	"create_subscription",
	"reset_user_traffic",
	"revoke_and_renew_link",
	"switch_user_server",
	"grant_reward",
}

// IsMutating reports whether name is on the mutating whitelist.
func IsMutating(name string) bool {
	for _, m := range MutatingTools {
		if m == name {
			return true
		}
	}
	return false
}

func userParam() Parameter {
	return Parameter{Name: "userName", Type: "string", Description: "The logged-in user's username.", Required: true}
}

// Definitions returns every tool the assistant knows.
func Definitions(account *Account, catalog *Catalog) []Definition {
	return []Definition{
		{
			Name:             "get_user_status",
			Description:      "Get subscription status (usage, expiry, hostname, lifetime usage, current server) for the logged-in user.",
			Parameters:       []Parameter{userParam()},
			RequiresIdentity: true,
			Handler:          account.UserStatus,
		},
		{
			Name:             "get_connection_link",
			Description:      "Get the subscription link and QR code for the logged-in user.",
			Parameters:       []Parameter{userParam()},
			RequiresIdentity: true,
			Handler:          account.ConnectionLink,
		},
		{
			Name:        "create_subscription",
			Description: "Creates a new subscription for the logged-in user after payment confirmation.",
			Parameters: []Parameter{
				userParam(),
				{Name: "plan", Type: "string", Description: "The chosen plan, e.g. Pro or Family.", Required: true},
			},
			Mutating:         true,
			RequiresIdentity: true,
			Handler:          account.CreateSubscription,
		},
		{
			Name:             "reset_user_traffic",
			Description:      "Resets data usage for the logged-in user.",
			Parameters:       []Parameter{userParam()},
			Mutating:         true,
			RequiresIdentity: true,
			Handler:          account.ResetTraffic,
		},
		{
			Name:        "check_domain_ping_from_iran",
			Description: "Checks if a domain is reachable from Iran.",
			Parameters: []Parameter{
				{Name: "domain", Type: "string", Description: "Domain or hostname to check.", Required: true},
			},
			Handler: catalog.PingDomain,
		},
		{
			Name:             "revoke_and_renew_link",
			Description:      "Revokes the user's current link and generates a new one.",
			Parameters:       []Parameter{userParam()},
			Mutating:         true,
			RequiresIdentity: true,
			Handler:          account.RevokeLink,
		},
		{
			Name:        "get_server_health",
			Description: "Checks the current health (load, response time) of a specific server.",
			Parameters: []Parameter{
				{Name: "serverId", Type: "string", Description: "Server identifier, e.g. de-1.", Required: true},
			},
			Handler: catalog.ServerHealthTool,
		},
		{
			Name:        "get_available_servers",
			Description: "Gets a list of all available servers the user can switch to.",
			Handler:     catalog.AvailableServers,
		},
		{
			Name:        "switch_user_server",
			Description: "Switches the user to a new server configuration.",
			Parameters: []Parameter{
				userParam(),
				{Name: "serverId", Type: "string", Description: "Target server identifier.", Required: true},
			},
			Mutating:         true,
			RequiresIdentity: true,
			Handler:          catalog.SwitchServer,
		},
		{
			Name:        "grant_reward",
			Description: "Grants a gamified reward (e.g., bonus traffic) to a user for a specific reason.",
			Parameters: []Parameter{
				userParam(),
				{Name: "reason", Type: "string", Description: "Why the reward is granted.", Required: true},
			},
			Mutating:         true,
			RequiresIdentity: true,
			Handler:          account.GrantReward,
		},
		{
			Name:        "get_system_announcements",
			Description: "Gets the latest system-wide news and announcements.",
			Handler:     catalog.SystemAnnouncements,
		},
		{
			Name:        "log_unresolved_issue",
			Description: "Logs a detailed summary of an unresolved issue to create a support ticket.",
			Parameters: []Parameter{
				userParam(),
				{Name: "issueSummary", Type: "string", Description: "What went wrong and what was tried.", Required: true},
			},
			RequiresIdentity: true,
			Handler:          catalog.LogUnresolvedIssue,
		},
		{
			Name:        "get_client_download_links",
			Description: "Fetches the official client download links for all platforms.",
			Handler:     catalog.ClientDownloadLinks,
		},
		{
			Name:        "get_status_from_link",
			Description: "Get subscription status (usage, expiry, hostname) using a subscription link.",
			Parameters: []Parameter{
				{Name: "link", Type: "string", Description: "The subscription link.", Required: true},
			},
			Handler: account.StatusFromLink,
		},
	}
}

// NewDefaultRegistry registers every tool.
func NewDefaultRegistry(api AccountAPI, catalog *Catalog, opts AccountOptions, logger zerolog.Logger) (*Registry, error) {
	account, err := NewAccount(api, catalog, opts)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry(logger)
	for _, def := range Definitions(account, catalog) {
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return reg, nil
}

// Manifests builds the identified and guest toolsets.
func Manifests(reg *Registry) (identified, guest *Toolset, err error) {
	identified, err = reg.Toolset(AudienceIdentified, IdentifiedTools...)
	if err != nil {
		return nil, nil, fmt.Errorf("identified manifest: %w", err)
	}
	guest, err = reg.Toolset(AudienceGuest, GuestTools...)
	if err != nil {
		return nil, nil, fmt.Errorf("guest manifest: %w", err)
	}
	return identified, guest, nil
}
