package panel

import "time"

// Bytes per gigabyte as the panel counts them.
const GB int64 = 1024 * 1024 * 1024

// User is the subset of the panel account record the assistant reads.
// A zero DataLimit or Expire means unlimited.
type User struct {
	Username            string   `json:"username"`
	Status              string   `json:"status"`
	UsedTraffic         int64    `json:"used_traffic"`
	LifetimeUsedTraffic int64    `json:"lifetime_used_traffic"`
	DataLimit           int64    `json:"data_limit"`
	Expire              int64    `json:"expire"`
	SubscriptionURL     string   `json:"subscription_url"`
	Links               []string `json:"links,omitempty"`
}

// Unlimited reports whether the account has no expiry.
func (u *User) Unlimited() bool {
	return u.Expire <= 0
}

// DaysLeft returns whole days until expiry, never negative.
// It is meaningless when Unlimited is true.
func (u *User) DaysLeft(now time.Time) int64 {
	remaining := u.Expire - now.Unix()
	if remaining <= 0 {
		return 0
	}
	return remaining / 86400
}

// UserCreate is the body of CreateUser.
type UserCreate struct {
	Username  string                            `json:"username"`
	DataLimit int64                             `json:"data_limit"`
	Expire    int64                             `json:"expire"`
	Proxies   map[string]map[string]interface{} `json:"proxies,omitempty"`
}

// UserModify is the body of ModifyUser. Nil fields are left unchanged.
type UserModify struct {
	DataLimit *int64 `json:"data_limit,omitempty"`
	Expire    *int64 `json:"expire,omitempty"`
	Status    string `json:"status,omitempty"`
}
