package tools

import (
	"context"
	"fmt"
)

// The handlers below answer from the Catalog without calling the panel.

// PingDomain handles check_domain_ping_from_iran.
func (c *Catalog) PingDomain(ctx context.Context, args Args) Result {
	domain := args.String("domain")
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("check_domain_ping_from_iran"))
	}

	ok := c.Reachable(domain)
	verdict := "successful"
	if !ok {
		verdict = "unsuccessful"
	}
	return Card(CardPing, PingPayload{Domain: domain, Success: ok},
		fmt.Sprintf("Ping check for %s was %s.", domain, verdict))
}

// ServerHealthTool handles get_server_health.
func (c *Catalog) ServerHealthTool(ctx context.Context, args Args) Result {
	id := args.String("serverId")
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("get_server_health"))
	}

	health, _ := c.Health(id)
	return Succeed(fmt.Sprintf("Health for server %s is %s.", id, health.Load), health)
}

// AvailableServers handles get_available_servers.
func (c *Catalog) AvailableServers(ctx context.Context, _ Args) Result {
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("get_available_servers"))
	}
	return Card(CardServerList, c.Servers(), "Returned a list of available servers.")
}

// SwitchServer handles switch_user_server.
func (c *Catalog) SwitchServer(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	id := args.String("serverId")
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("switch_user_server"))
	}

	if err := c.Assign(username, id); err != nil {
		return Fail(err.Error(), fmt.Sprintf("سروری با شناسه %s پیدا نکردم. 🤔", id))
	}
	return Succeed(
		"با موفقیت به سرور جدید منتقل شدی! لطفاً یک بار اتصال خود را قطع و وصل کن و لیست سرورها را در برنامه‌ات آپدیت کن. ✨",
		map[string]interface{}{"server_id": id},
	)
}

// SystemAnnouncements handles get_system_announcements.
func (c *Catalog) SystemAnnouncements(ctx context.Context, _ Args) Result {
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("get_system_announcements"))
	}
	return Succeed("Fetched system announcements.", map[string]interface{}{
		"announcements": c.Announcements(),
	})
}

// LogUnresolvedIssue handles log_unresolved_issue.
func (c *Catalog) LogUnresolvedIssue(ctx context.Context, args Args) Result {
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("log_unresolved_issue"))
	}

	ticket, err := c.LogIssue(subject(ctx, args), args.String("issueSummary"))
	if err != nil {
		return Fail(err.Error(), genericFailure("log_unresolved_issue"))
	}
	return Succeed(
		"ممنونم ازت! من مشکلت رو برای تیم پشتیبانی انسانی ثبت کردم. اون‌ها به زودی باهات تماس می‌گیرن و دیگه نیازی نیست چیزی رو دوباره برای اون‌ها توضیح بدی. ✨",
		map[string]interface{}{"ticket_id": ticket.ID},
	)
}

// ClientDownloadLinks handles get_client_download_links.
func (c *Catalog) ClientDownloadLinks(ctx context.Context, _ Args) Result {
	if err := c.simulate(ctx); err != nil {
		return Fail(err.Error(), genericFailure("get_client_download_links"))
	}
	return Succeed("Fetched client download links.", map[string]interface{}{
		"links": c.DownloadLinks(),
	})
}
