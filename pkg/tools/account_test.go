package tools

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/harun/panbeh/internal/config"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/harun/panbeh/pkg/panel"
	"github.com/harun/panbeh/pkg/panel/paneltest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	stub       *paneltest.Server
	catalog    *Catalog
	identified *Toolset
	guest      *Toolset
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stub := paneltest.NewServer()
	t.Cleanup(stub.Close)

	tokens, err := panel.NewTokenCache(panel.NewPasswordExchanger(stub.URL, "admin", "secret", nil))
	require.NoError(t, err)
	client, err := panel.NewClient(stub.URL, tokens)
	require.NoError(t, err)

	catalog, err := NewCatalog(config.DefaultConfig().Catalog, zerolog.Nop())
	require.NoError(t, err)

	reg, err := NewDefaultRegistry(client, catalog, AccountOptions{
		Proxies: map[string]map[string]interface{}{"vless": {}},
		Now:     func() time.Time { return fixedNow },
	}, zerolog.Nop())
	require.NoError(t, err)

	identified, guest, err := Manifests(reg)
	require.NoError(t, err)

	return &harness{stub: stub, catalog: catalog, identified: identified, guest: guest}
}

func args(kv ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func TestManifests(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, AudienceIdentified, h.identified.Audience())
	assert.Equal(t, AudienceGuest, h.guest.Audience())
	assert.Len(t, h.identified.Names(), 13)
	assert.Equal(t, []string{"get_status_from_link", "check_domain_ping_from_iran", "get_client_download_links"}, h.guest.Names())

	for _, name := range h.guest.Names() {
		assert.False(t, IsMutating(name), "guest manifest exposes %s", name)
	}
	for _, name := range MutatingTools {
		assert.True(t, h.identified.Has(name))
		assert.False(t, h.guest.Has(name))
	}
}

func TestUserStatus(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{
		Username:            "alice",
		UsedTraffic:         3 * panel.GB / 2,
		LifetimeUsedTraffic: 60 * panel.GB,
		DataLimit:           50 * panel.GB,
		Expire:              fixedNow.Add(10*24*time.Hour + time.Hour).Unix(),
	})

	res := h.identified.Dispatch(context.Background(), "get_user_status", args("userName", "alice"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, CardStatus, res.Type)

	p := res.Payload.(StatusPayload)
	assert.Equal(t, "active", p.Status)
	assert.Equal(t, 1.5, p.UsedTrafficGB)
	assert.Equal(t, 50.0, p.DataLimitGB)
	require.NotNil(t, p.DaysLeft)
	assert.Equal(t, int64(10), *p.DaysLeft)
	assert.False(t, p.Unlimited)
	assert.Equal(t, "127.0.0.1", p.Hostname)
	assert.Equal(t, 60.0, *p.LifetimeUsedTrafficGB)
	assert.Equal(t, "de-1", p.CurrentServerID)
	assert.False(t, *p.RewardGranted50GB)
}

func TestIdentifiedUserOverridesSuppliedName(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "alice", DataLimit: 50 * panel.GB})
	h.stub.AddUser(panel.User{Username: "mallory"})

	ctx := tracing.WithActor(context.Background(), "alice")

	res := h.identified.Dispatch(ctx, "get_user_status", args("userName", "mallory"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "User alice status checked.", res.Summary)
	p := res.Payload.(StatusPayload)
	assert.Equal(t, 50.0, p.DataLimitGB)
	assert.False(t, p.Unlimited)

	res = h.identified.Dispatch(ctx, "reset_user_traffic", args("userName", "mallory"))
	require.True(t, res.OK, res.Detail)

	paths := make([]string, 0)
	for _, req := range h.stub.Requests() {
		paths = append(paths, req.Path)
		assert.NotContains(t, req.Path, "mallory")
	}
	assert.Contains(t, paths, "/api/user/alice/reset")

	res = h.identified.Dispatch(context.Background(), "get_user_status", args("userName", "mallory"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "User mallory status checked.", res.Summary)
}

func TestUserStatus_Unlimited(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "bob", Expire: 0})

	res := h.identified.Dispatch(context.Background(), "get_user_status", args("userName", "bob"))
	require.True(t, res.OK)
	p := res.Payload.(StatusPayload)
	assert.True(t, p.Unlimited)
	assert.Nil(t, p.DaysLeft)
}

func TestUserStatus_NotFound(t *testing.T) {
	h := newHarness(t)

	res := h.identified.Dispatch(context.Background(), "get_user_status", args("userName", "ghost"))
	assert.False(t, res.OK)
	assert.Equal(t, "User not found", res.Detail)
	assert.Equal(t, "User not found", res.Summary)
}

func TestUserStatus_UpstreamWithoutJSON(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "alice"})
	h.stub.FailNext("/api/user/alice", http.StatusInternalServerError)

	res := h.identified.Dispatch(context.Background(), "get_user_status", args("userName", "alice"))
	assert.False(t, res.OK)
	assert.Equal(t, "Internal Server Error", res.Detail)
}

func TestCreateSubscription_ThenStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.identified.Dispatch(ctx, "create_subscription", args("userName", "newbie", "plan", "Pro"))
	require.True(t, res.OK, res.Detail)
	assert.Contains(t, res.Summary, "Pro")

	user, ok := h.stub.User("newbie")
	require.True(t, ok)
	assert.Equal(t, 50*panel.GB, user.DataLimit)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour).Unix(), user.Expire)

	requests := h.stub.Requests()
	last := requests[len(requests)-1]
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Contains(t, last.Body, "proxies")

	status := h.identified.Dispatch(ctx, "get_user_status", args("userName", "newbie"))
	require.True(t, status.OK)
	p := status.Payload.(StatusPayload)
	assert.Equal(t, 50.0, p.DataLimitGB)
	assert.Equal(t, int64(30), *p.DaysLeft)
}

func TestCreateSubscription_ExtendsExisting(t *testing.T) {
	h := newHarness(t)
	expire := fixedNow.Add(5 * 24 * time.Hour).Unix()
	h.stub.AddUser(panel.User{Username: "alice", Status: "limited", DataLimit: panel.GB, Expire: expire})

	res := h.identified.Dispatch(context.Background(), "create_subscription", args("userName", "alice", "plan", "Family"))
	require.True(t, res.OK, res.Detail)

	user, _ := h.stub.User("alice")
	assert.Equal(t, 100*panel.GB, user.DataLimit)
	assert.Equal(t, expire+30*24*3600, user.Expire)
	assert.Equal(t, "active", user.Status)
}

func TestCreateSubscription_ExpiredStartsFromNow(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "alice", Expire: fixedNow.Add(-48 * time.Hour).Unix()})

	res := h.identified.Dispatch(context.Background(), "create_subscription", args("userName", "alice", "plan", "Pro"))
	require.True(t, res.OK)

	user, _ := h.stub.User("alice")
	assert.Equal(t, fixedNow.Add(30*24*time.Hour).Unix(), user.Expire)
}

func TestCreateSubscription_LookupFailure(t *testing.T) {
	h := newHarness(t)
	h.stub.FailNext("/api/user/alice", http.StatusBadGateway)

	res := h.identified.Dispatch(context.Background(), "create_subscription", args("userName", "alice", "plan", "Pro"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Summary, "Bad Gateway")

	for _, r := range h.stub.Requests() {
		assert.NotEqual(t, http.MethodPost, r.Method, "must not create after a failed lookup")
	}
}

func TestResetAndRevoke(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "alice", UsedTraffic: 5 * panel.GB})
	ctx := context.Background()

	res := h.identified.Dispatch(ctx, "reset_user_traffic", args("userName", "alice"))
	require.True(t, res.OK)
	user, _ := h.stub.User("alice")
	assert.Zero(t, user.UsedTraffic)

	res = h.identified.Dispatch(ctx, "revoke_and_renew_link", args("userName", "alice"))
	require.True(t, res.OK)
	assert.Equal(t, CardConnection, res.Type)
	assert.Contains(t, res.Payload.(ConnectionPayload).SubscriptionURL, "alice-renewed")

	res = h.identified.Dispatch(ctx, "reset_user_traffic", args("userName", "ghost"))
	assert.False(t, res.OK)
}

func TestStatusFromLink(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "carol", UsedTraffic: 2 * panel.GB})
	user, _ := h.stub.User("carol")

	res := h.guest.Dispatch(context.Background(), "get_status_from_link", args("link", user.SubscriptionURL))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "User with link has used 2.00GB.", res.Summary)
	assert.Nil(t, res.Payload.(StatusPayload).LifetimeUsedTrafficGB)

	res = h.guest.Dispatch(context.Background(), "get_status_from_link", args("link", "not a link"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Summary, "لینک")
}

func TestGrantReward(t *testing.T) {
	h := newHarness(t)
	h.stub.AddUser(panel.User{Username: "alice", DataLimit: 10 * panel.GB})
	ctx := context.Background()

	res := h.identified.Dispatch(ctx, "grant_reward", args("userName", "alice", "reason", "50GB"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, CardReward, res.Type)
	assert.Contains(t, res.Payload.(RewardPayload).Description, "۲")

	user, _ := h.stub.User("alice")
	assert.Equal(t, 12*panel.GB, user.DataLimit)
	assert.True(t, h.catalog.RewardGranted("alice"))

	again := h.identified.Dispatch(ctx, "grant_reward", args("userName", "alice", "reason", "50GB"))
	assert.True(t, again.OK)
	assert.Empty(t, again.Type)
	user, _ = h.stub.User("alice")
	assert.Equal(t, 12*panel.GB, user.DataLimit)
}

func TestGrantReward_FailureCanBeRetried(t *testing.T) {
	h := newHarness(t)

	res := h.identified.Dispatch(context.Background(), "grant_reward", args("userName", "ghost", "reason", "x"))
	assert.False(t, res.OK)
	assert.False(t, h.catalog.RewardGranted("ghost"))
}

func TestAuthFailureUsesFallbackSummary(t *testing.T) {
	h := newHarness(t)
	h.stub.RejectLogin.Store(true)

	res := h.identified.Dispatch(context.Background(), "get_connection_link", args("userName", "alice"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "authentication failed")
	assert.Equal(t, "متاسفانه نتونستم لینک این کاربر رو پیدا کنم. 😔", res.Summary)

	tests := []struct {
		name    string
		tool    string
		args    map[string]interface{}
		summary string
	}{
		{
			name:    "status",
			tool:    "get_user_status",
			args:    args("userName", "alice"),
			summary: "متاسفانه نتونستم اطلاعات این کاربر رو پیدا کنم. 😔",
		},
		{
			name:    "reset traffic",
			tool:    "reset_user_traffic",
			args:    args("userName", "alice"),
			summary: "مشکلی در ریست کردن حجم پیش اومد.",
		},
		{
			name:    "revoke link",
			tool:    "revoke_and_renew_link",
			args:    args("userName", "alice"),
			summary: "مشکلی در ساخت لینک جدید پیش اومد.",
		},
		{
			name:    "subscription",
			tool:    "create_subscription",
			args:    args("userName", "alice", "plan", "Pro"),
			summary: "ای وای! نتونستم اشتراک رو برات بسازم. خطا: An unexpected error occurred.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.identified.Dispatch(context.Background(), tt.tool, tt.args)
			assert.False(t, res.OK)
			assert.Equal(t, tt.summary, res.Summary)
			assert.NotContains(t, res.Summary, "Incorrect username or password")
		})
	}

	assert.Empty(t, h.stub.Requests())
}
