package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter is a per-IP sliding window limiter.
type RateLimiter struct {
	limits            map[string][]time.Time
	maxRequestsPerMin int
	mu                sync.Mutex
	now               func() time.Time
	cleanupInterval   time.Duration
	stopCleanup       chan struct{}
	stopOnce          sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
// A limit <= 0 disables limiting.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:            make(map[string][]time.Time),
		maxRequestsPerMin: maxRequestsPerMinute,
		now:               time.Now,
		cleanupInterval:   5 * time.Minute,
		stopCleanup:       make(chan struct{}),
	}

	go rl.startCleanup()

	return rl
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.maxRequestsPerMin <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	requests := prune(rl.limits[ip], now)

	if len(requests) >= rl.maxRequestsPerMin {
		rl.limits[ip] = requests
		return false
	}

	rl.limits[ip] = append(requests, now)
	return true
}

// RetryAfter returns the seconds until ip may send again.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	requests := rl.limits[ip]
	if len(requests) == 0 {
		return 0
	}

	wait := rateWindow - rl.now().Sub(requests[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// prune drops requests older than the window. requests is oldest first.
func prune(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= rateWindow {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, requests := range rl.limits {
		if remaining := prune(requests, now); len(remaining) == 0 {
			delete(rl.limits, ip)
		} else {
			rl.limits[ip] = remaining
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
