// Package users holds the SIP user directory: credentials (stored as
// precomputed HA1 digests, never plaintext passwords), per-user lockout
// state, and digest authentication against REGISTER/INVITE requests.
package users

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrAccountLocked is returned by Authenticate when a user has exceeded
// MaxFailedAttempts and is still within its lockout window.
var ErrAccountLocked = errors.New("users: account locked")

// ErrChallengeRequired is returned by Authenticate whenever the caller must
// send a fresh WWW-Authenticate challenge (missing/invalid/expired
// Authorization header, unknown user, or wrong digest response).
var ErrChallengeRequired = errors.New("users: challenge required")

const (
	// MaxFailedAttempts is the number of consecutive failed digest
	// authentications before a user account is locked.
	MaxFailedAttempts = 5

	// LockoutDuration is how long a user stays locked after exceeding
	// MaxFailedAttempts.
	LockoutDuration = 30 * time.Minute
)

// User is a SIP registrar/auth principal. Password is never stored; HA1 is
// the precomputed MD5(username:realm:password) per RFC 2617.
type User struct {
	mu sync.Mutex

	Username           string
	Realm              string
	HA1                string
	AOR                string // expected Address-of-Record, empty to allow any
	Active             bool
	Blocked            bool
	MaxConcurrentCalls int

	FailedAuthAttempts int
	LockedUntil        time.Time
	LastSeen           time.Time
	ActiveCalls        int
}

// IsLocked reports whether the user is currently blocked or within an
// active lockout window.
func (u *User) IsLocked() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.locked(time.Now())
}

func (u *User) locked(now time.Time) bool {
	if u.Blocked {
		return true
	}
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// RecordFailure increments the failure counter and locks the account once
// MaxFailedAttempts is reached.
func (u *User) RecordFailure(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.FailedAuthAttempts++
	if u.FailedAuthAttempts >= MaxFailedAttempts {
		u.LockedUntil = now.Add(LockoutDuration)
	}
}

// RecordSuccess clears the failure counter and lockout, and updates LastSeen.
func (u *User) RecordSuccess(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.FailedAuthAttempts = 0
	u.LockedUntil = time.Time{}
	u.LastSeen = now
}

// TryAdmitCall reports whether another concurrent call may be admitted for
// this user, incrementing ActiveCalls if so.
func (u *User) TryAdmitCall() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.MaxConcurrentCalls > 0 && u.ActiveCalls >= u.MaxConcurrentCalls {
		return false
	}
	u.ActiveCalls++
	return true
}

// ReleaseCall decrements the active call counter for this user.
func (u *User) ReleaseCall() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ActiveCalls > 0 {
		u.ActiveCalls--
	}
}

// ComputeHA1 returns the RFC 2617 HA1 digest MD5(username:realm:password),
// for provisioning a User from a plaintext password without ever storing it.
func ComputeHA1(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

// Repository is an in-memory SipUser directory keyed by username.
type Repository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewRepository creates an empty user repository.
func NewRepository() *Repository {
	return &Repository{users: make(map[string]*User)}
}

// Put inserts or replaces a user record.
func (r *Repository) Put(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.Username] = u
}

// Get looks up a user by SIP username (no realm qualification).
func (r *Repository) Get(username string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	return u, ok
}

// Delete removes a user record.
func (r *Repository) Delete(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, username)
}

// List returns a snapshot of all users.
func (r *Repository) List() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out
}
