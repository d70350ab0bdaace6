package store

import (
	"context"
	"sync"

	"github.com/bookery-app/bookery/models"
)

// UserSource is the slice of the session gateway the auth store needs for
// session restoration.
type UserSource interface {
	CurrentUser(ctx context.Context) *models.Account
}

// Auth holds the current-user identity and whether session restoration has
// completed. Login and Logout are synchronous state replacements; the remote
// work happens in the session gateway before they are called.
type Auth struct {
	mu          sync.RWMutex
	status      bool
	userData    *models.Account
	authChecked bool
	restoreOnce sync.Once
}

func NewAuth() *Auth {
	return &Auth{}
}

// Restore asks the gateway for the current user and records the result.
// It runs at most once per process; later calls are no-ops. Whatever the
// outcome, authChecked is true afterwards, so the shell can render.
func (a *Auth) Restore(ctx context.Context, src UserSource) {
	a.restoreOnce.Do(func() {
		user := src.CurrentUser(ctx)
		a.mu.Lock()
		a.userData = user
		a.status = user != nil
		a.authChecked = true
		a.mu.Unlock()
	})
}

// Login records a freshly authenticated user.
func (a *Auth) Login(user *models.Account) {
	a.mu.Lock()
	a.status = true
	a.userData = user
	a.mu.Unlock()
}

// Logout clears the held identity. Safe to call repeatedly.
func (a *Auth) Logout() {
	a.mu.Lock()
	a.status = false
	a.userData = nil
	a.mu.Unlock()
}

// Status reports whether a user is logged in.
func (a *Auth) Status() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// UserData returns a copy of the current account, or nil.
func (a *Auth) UserData() *models.Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.userData == nil {
		return nil
	}
	u := *a.userData
	return &u
}

// AuthChecked reports whether session restoration has completed.
func (a *Auth) AuthChecked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authChecked
}
