package panel

import (
	"net/http"
	"net/url"
)

// Operation describes one panel call. Body, when set, is sent as JSON.
type Operation struct {
	Name   string
	Method string
	Path   string
	Body   interface{}
}

func userPath(username string) string {
	return "/api/user/" + url.PathEscape(username)
}

// GetUser reads an account.
func GetUser(username string) Operation {
	return Operation{Name: "get_user", Method: http.MethodGet, Path: userPath(username)}
}

// CreateUser creates an account. body is usually a UserCreate.
func CreateUser(body interface{}) Operation {
	return Operation{Name: "create_user", Method: http.MethodPost, Path: "/api/user", Body: body}
}

// ModifyUser updates an account. body is usually a UserModify.
func ModifyUser(username string, body interface{}) Operation {
	return Operation{Name: "modify_user", Method: http.MethodPut, Path: userPath(username), Body: body}
}

// ResetUserTraffic resets used traffic.
func ResetUserTraffic(username string) Operation {
	return Operation{Name: "reset_user", Method: http.MethodPost, Path: userPath(username) + "/reset"}
}

// RevokeSubscription issues a new subscription link.
func RevokeSubscription(username string) Operation {
	return Operation{Name: "revoke_sub", Method: http.MethodPost, Path: userPath(username) + "/revoke_sub"}
}

// SubscriptionInfo looks up an account by subscription token.
func SubscriptionInfo(token string) Operation {
	return Operation{Name: "sub_info", Method: http.MethodGet, Path: "/sub/" + url.PathEscape(token) + "/info"}
}
