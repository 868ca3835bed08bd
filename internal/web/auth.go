package web

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	maxAuthFailures = 5
	authLockout     = 5 * time.Minute
)

// AuthRateLimiter tracks failed basic auth attempts per IP.
type AuthRateLimiter struct {
	mu              sync.Mutex
	attempts        map[string]*authAttempt
	maxAttempts     int
	lockoutDuration time.Duration
	now             func() time.Time
}

type authAttempt struct {
	failCount int
	lockedAt  time.Time
}

// NewAuthRateLimiter creates a limiter and starts a background cleanup
// goroutine that exits when stopCh is closed.
func NewAuthRateLimiter(maxAttempts int, lockout time.Duration, stopCh <-chan struct{}) *AuthRateLimiter {
	rl := &AuthRateLimiter{
		attempts:        make(map[string]*authAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockout,
		now:             time.Now,
	}
	if stopCh != nil {
		go rl.cleanup(stopCh)
	}
	return rl
}

// IsLocked returns true if the IP is currently locked out.
func (rl *AuthRateLimiter) IsLocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok || a.failCount < rl.maxAttempts {
		return false
	}
	if rl.now().Sub(a.lockedAt) < rl.lockoutDuration {
		return true
	}
	// Lockout expired, reset
	delete(rl.attempts, ip)
	return false
}

// RecordFailure increments the failure count for an IP.
func (rl *AuthRateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	a, ok := rl.attempts[ip]
	if !ok {
		a = &authAttempt{}
		rl.attempts[ip] = a
	}
	a.failCount++
	if a.failCount >= rl.maxAttempts {
		a.lockedAt = rl.now()
	}
}

// ClearIP removes the failure record for an IP after a successful attempt.
func (rl *AuthRateLimiter) ClearIP(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}

func (rl *AuthRateLimiter) cleanup(stopCh <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, a := range rl.attempts {
				if rl.now().Sub(a.lockedAt) >= rl.lockoutDuration {
					delete(rl.attempts, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
