package auth

import (
	"sync"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type rolePerms map[string][]string

func (r rolePerms) PermissionsForRole(role string) []string { return r[role] }

var testRoles = rolePerms{
	"user":              {"profile.view", "auth.password.change"},
	"institution_admin": {"institutions.read"},
	"service":           {"profile.view"},
}
