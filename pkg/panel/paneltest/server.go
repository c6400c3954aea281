// Package paneltest provides an in-memory subscription panel for tests.
package paneltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/harun/panbeh/pkg/panel"
)

// Token is the bearer token the stub hands out.
const Token = "stub-token"

// Request is one call the stub received.
type Request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// Server is a stub panel backed by a map of users.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]*panel.User
	requests []Request
	failures map[string]int

	exchanges atomic.Int32
	// RejectLogin makes the token endpoint answer 401.
	RejectLogin atomic.Bool
}

// NewServer starts a stub panel. Call Close when done.
func NewServer() *Server {
	s := &Server{
		users:    make(map[string]*panel.User),
		failures: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddUser stores a user. Its subscription URL defaults to <server>/sub/<username>-token.
func (s *Server) AddUser(u panel.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.SubscriptionURL == "" {
		u.SubscriptionURL = fmt.Sprintf("%s/sub/%s-token", s.URL, u.Username)
	}
	if u.Status == "" {
		u.Status = "active"
	}
	s.users[u.Username] = &u
}

// User returns a copy of a stored user.
func (s *Server) User(username string) (panel.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return panel.User{}, false
	}
	return *u, true
}

// FailNext makes the next request whose path starts with prefix answer status.
func (s *Server) FailNext(prefix string, status int) {
	s.mu.Lock()
	s.failures[prefix] = status
	s.mu.Unlock()
}

// Requests returns every non-token request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Exchanges returns how many times the token endpoint was hit.
func (s *Server) Exchanges() int {
	return int(s.exchanges.Load())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/admin/token" {
		s.exchanges.Add(1)
		if s.RejectLogin.Load() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": Token, "token_type": "bearer"})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})

	for prefix, status := range s.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			delete(s.failures, prefix)
			w.WriteHeader(status)
			_, _ = w.Write([]byte("stub failure"))
			return
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "sub" && parts[2] == "info" && r.Method == http.MethodGet:
		for _, u := range s.users {
			if strings.HasSuffix(u.SubscriptionURL, "/sub/"+parts[1]) {
				writeJSON(w, http.StatusOK, u)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})

	case len(parts) == 2 && parts[1] == "user" && r.Method == http.MethodPost:
		s.createUser(w, body)

	case len(parts) >= 3 && parts[1] == "user":
		u, ok := s.users[parts[2]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
			return
		}
		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, u)
		case len(parts) == 3 && r.Method == http.MethodPut:
			if v, ok := body["data_limit"].(float64); ok {
				u.DataLimit = int64(v)
			}
			if v, ok := body["expire"].(float64); ok {
				u.Expire = int64(v)
			}
			if v, ok := body["status"].(string); ok && v != "" {
				u.Status = v
			}
			writeJSON(w, http.StatusOK, u)
		case len(parts) == 4 && parts[3] == "reset" && r.Method == http.MethodPost:
			u.UsedTraffic = 0
			writeJSON(w, http.StatusOK, u)
		case len(parts) == 4 && parts[3] == "revoke_sub" && r.Method == http.MethodPost:
			u.SubscriptionURL = fmt.Sprintf("%s/sub/%s-renewed", s.URL, u.Username)
			writeJSON(w, http.StatusOK, u)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
		}

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	}
}

func (s *Server) createUser(w http.ResponseWriter, body map[string]interface{}) {
	username, _ := body["username"].(string)
	if username == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]interface{}{
				{"msg": "field required", "loc": []string{"body", "username"}},
			},
		})
		return
	}
	if _, exists := s.users[username]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "User already exists"})
		return
	}

	u := &panel.User{Username: username, Status: "active"}
	if v, ok := body["data_limit"].(float64); ok {
		u.DataLimit = int64(v)
	}
	if v, ok := body["expire"].(float64); ok {
		u.Expire = int64(v)
	}
	u.SubscriptionURL = fmt.Sprintf("%s/sub/%s-token", s.URL, username)
	s.users[username] = u
	writeJSON(w, http.StatusOK, u)
}
