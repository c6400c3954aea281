package tools

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/harun/panbeh/pkg/panel"
)

const subscriptionPeriod = 30 * 24 * time.Hour

// AccountAPI is the part of the panel client the account tools need.
type AccountAPI interface {
	User(ctx context.Context, username string) (*panel.User, error)
	CreateUser(ctx context.Context, body panel.UserCreate) (*panel.User, error)
	ModifyUser(ctx context.Context, username string, body panel.UserModify) (*panel.User, error)
	ResetUserTraffic(ctx context.Context, username string) (*panel.User, error)
	RevokeSubscription(ctx context.Context, username string) (*panel.User, error)
	SubscriptionInfo(ctx context.Context, token string) (*panel.User, error)
}

// AccountOptions tunes the account tools.
type AccountOptions struct {
	// Proxies is sent when a new account is created.
	Proxies map[string]map[string]interface{}
	// Now replaces time.Now.
	Now func() time.Time
}

// StatusPayload is the content of a status card.
type StatusPayload struct {
	Status                string   `json:"status"`
	UsedTrafficGB         float64  `json:"used_traffic_gb"`
	DataLimitGB           float64  `json:"data_limit_gb"`
	DaysLeft              *int64   `json:"days_left"`
	Unlimited             bool     `json:"unlimited"`
	Hostname              string   `json:"hostname"`
	LifetimeUsedTrafficGB *float64 `json:"lifetime_used_traffic_gb,omitempty"`
	CurrentServerID       string   `json:"current_server_id,omitempty"`
	RewardGranted50GB     *bool    `json:"reward_granted_50gb,omitempty"`
}

// ConnectionPayload is the content of a connection card.
type ConnectionPayload struct {
	SubscriptionURL string `json:"subscription_url"`
}

// PingPayload is the content of a ping card.
type PingPayload struct {
	Domain  string `json:"domain"`
	Success bool   `json:"success"`
}

// RewardPayload is the content of a reward card.
type RewardPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BonusGB     int    `json:"bonus_gb"`
}

// Account implements the tools backed by the panel.
type Account struct {
	api     AccountAPI
	catalog *Catalog
	proxies map[string]map[string]interface{}
	now     func() time.Time
}

// NewAccount wires the panel-backed tools.
func NewAccount(api AccountAPI, catalog *Catalog, opts AccountOptions) (*Account, error) {
	if api == nil {
		return nil, fmt.Errorf("panel client is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Account{api: api, catalog: catalog, proxies: opts.Proxies, now: now}, nil
}

func bytesToGB(b int64) float64 {
	if b <= 0 {
		return 0
	}
	return math.Round(float64(b)/float64(panel.GB)*100) / 100
}

func (a *Account) basicStatus(user *panel.User, hostname string) StatusPayload {
	p := StatusPayload{
		Status:        user.Status,
		UsedTrafficGB: bytesToGB(user.UsedTraffic),
		DataLimitGB:   bytesToGB(user.DataLimit),
		Unlimited:     user.Unlimited(),
		Hostname:      hostname,
	}
	if !p.Unlimited {
		days := user.DaysLeft(a.now())
		p.DaysLeft = &days
	}
	return p
}

func hostnameOf(raw string) string {
	if raw == "" {
		return "N/A"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "N/A"
	}
	return u.Hostname()
}

// UserStatus handles get_user_status.
func (a *Account) UserStatus(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	user, err := a.api.User(ctx, username)
	if err != nil {
		return FailFromError(err, "متاسفانه نتونستم اطلاعات این کاربر رو پیدا کنم. 😔")
	}

	payload := a.basicStatus(user, hostnameOf(user.SubscriptionURL))
	lifetime := bytesToGB(user.LifetimeUsedTraffic)
	granted := a.catalog.RewardGranted(username)
	payload.LifetimeUsedTrafficGB = &lifetime
	payload.CurrentServerID = a.catalog.AssignedServer(username)
	payload.RewardGranted50GB = &granted

	return Card(CardStatus, payload, fmt.Sprintf("User %s status checked.", username))
}

// subscriptionToken extracts the path segment following "sub".
func subscriptionToken(link string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return nil, "", fmt.Errorf("invalid subscription link format")
	}
	parts := strings.Split(u.Path, "/")
	for i, part := range parts {
		if part == "sub" && i+1 < len(parts) && parts[i+1] != "" {
			return u, parts[i+1], nil
		}
	}
	return nil, "", fmt.Errorf("invalid subscription link format")
}

// StatusFromLink handles get_status_from_link.
func (a *Account) StatusFromLink(ctx context.Context, args Args) Result {
	const fallback = "متاسفانه این لینک اشتراک رو پیدا نکردم. مطمئنی که لینک درسته؟ 🤔"

	u, token, err := subscriptionToken(args.String("link"))
	if err != nil {
		return Fail(err.Error(), fallback)
	}

	user, err := a.api.SubscriptionInfo(ctx, token)
	if err != nil {
		return FailFromError(err, fallback)
	}

	payload := a.basicStatus(user, u.Hostname())
	return Card(CardStatus, payload, fmt.Sprintf("User with link has used %.2fGB.", payload.UsedTrafficGB))
}

// ConnectionLink handles get_connection_link.
func (a *Account) ConnectionLink(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	user, err := a.api.User(ctx, username)
	if err != nil {
		return FailFromError(err, "متاسفانه نتونستم لینک این کاربر رو پیدا کنم. 😔")
	}
	return Card(CardConnection, ConnectionPayload{SubscriptionURL: user.SubscriptionURL},
		fmt.Sprintf("Connection link for %s is ready.", username))
}

// PlanDataLimit returns the traffic allowance of a plan in bytes.
func PlanDataLimit(plan string) int64 {
	if plan == "Pro" {
		return 50 * panel.GB
	}
	return 100 * panel.GB
}

// CreateSubscription handles create_subscription. An existing account is
// extended from max(expire, now); a missing one is created.
func (a *Account) CreateSubscription(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	plan := args.String("plan")

	now := a.now().Unix()
	period := int64(subscriptionPeriod / time.Second)
	limit := PlanDataLimit(plan)

	existing, err := a.api.User(ctx, username)
	switch {
	case err == nil:
		base := existing.Expire
		if base < now {
			base = now
		}
		expire := base + period
		_, err = a.api.ModifyUser(ctx, username, panel.UserModify{
			DataLimit: &limit,
			Expire:    &expire,
			Status:    "active",
		})
	case panel.IsNotFound(err):
		_, err = a.api.CreateUser(ctx, panel.UserCreate{
			Username:  username,
			DataLimit: limit,
			Expire:    now + period,
			Proxies:   a.proxies,
		})
	}

	if err != nil {
		msg := "An unexpected error occurred."
		if upstream, ok := panel.AsUpstream(err); ok && upstream.Detail != "" {
			msg = upstream.Detail
		}
		return Fail(msg, fmt.Sprintf("ای وای! نتونستم اشتراک رو برات بسازم. خطا: %s", msg))
	}

	return Succeed(fmt.Sprintf("پلن '%s' با موفقیت برای شما فعال شد.", plan), map[string]interface{}{
		"plan":          plan,
		"data_limit_gb": bytesToGB(limit),
	})
}

// ResetTraffic handles reset_user_traffic.
func (a *Account) ResetTraffic(ctx context.Context, args Args) Result {
	if _, err := a.api.ResetUserTraffic(ctx, subject(ctx, args)); err != nil {
		return FailFromError(err, "مشکلی در ریست کردن حجم پیش اومد.")
	}
	return Succeed("حجم مصرفی شما با موفقیت ریست شد.", nil)
}

// RevokeLink handles revoke_and_renew_link.
func (a *Account) RevokeLink(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	user, err := a.api.RevokeSubscription(ctx, username)
	if err != nil {
		return FailFromError(err, "مشکلی در ساخت لینک جدید پیش اومد.")
	}
	return Card(CardConnection, ConnectionPayload{SubscriptionURL: user.SubscriptionURL},
		fmt.Sprintf("لینک جدید برای کاربر %s ساخته شد.", username))
}

// GrantReward handles grant_reward. The bonus is added to limited accounts
// through the panel and is granted at most once per user.
func (a *Account) GrantReward(ctx context.Context, args Args) Result {
	username := subject(ctx, args)
	bonus := a.catalog.RewardBonusGB()

	if !a.catalog.claimReward(username) {
		return Succeed(fmt.Sprintf("Reward was already granted to %s.", username), map[string]interface{}{
			"already_granted": true,
		})
	}

	if err := a.catalog.simulate(ctx); err != nil {
		a.catalog.releaseReward(username)
		return Fail(err.Error(), genericFailure("grant_reward"))
	}

	user, err := a.api.User(ctx, username)
	if err == nil && user.DataLimit > 0 && bonus > 0 {
		limit := user.DataLimit + int64(bonus)*panel.GB
		_, err = a.api.ModifyUser(ctx, username, panel.UserModify{DataLimit: &limit})
	}
	if err != nil {
		a.catalog.releaseReward(username)
		return FailFromError(err, genericFailure("grant_reward"))
	}

	return Card(CardReward, RewardPayload{
		Title: "🎉 قفل دستاورد باز شد! 🎉",
		Description: fmt.Sprintf(
			"تبریک! به خاطر عبور از ۵۰ گیگابایت مصرف، شما دستاورد \"کاربر حرفه‌ای\" را باز کردید. به عنوان هدیه، %s گیگابایت ترافیک به حساب شما اضافه شد.",
			persianDigits(bonus)),
		BonusGB: bonus,
	}, "Reward granted for passing 50GB milestone.")
}

func persianDigits(n int) string {
	const digits = "۰۱۲۳۴۵۶۷۸۹"
	runes := []rune(digits)
	var b strings.Builder
	for _, r := range fmt.Sprint(n) {
		if r >= '0' && r <= '9' {
			b.WriteRune(runes[r-'0'])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
