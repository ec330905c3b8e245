// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Roles assignable to users.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords
// alike, so a caller cannot probe which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is an account known to the registry. The password hash never leaves
// this package.
type User struct {
	ID       string
	Username string
	Role     string

	passwordHash []byte
}

// Registry is an in-memory user store with bcrypt password verification.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by lowercased username
}

// NewRegistry creates an empty user registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// AddUser registers a user with a bcrypt-hashed password. Usernames are
// case-insensitive and must be unique.
func (r *Registry) AddUser(username, password, role string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username must not be empty")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	if role != RoleAdmin && role != RoleMember {
		return nil, errors.New("unknown role " + role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return nil, errors.New("username already taken")
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		passwordHash: hash,
	}
	r.users[key] = u
	return u, nil
}

// Authenticate verifies a username/password pair and returns the matching
// user. Both unknown users and bad passwords return ErrInvalidCredentials.
func (r *Registry) Authenticate(username, password string) (*User, error) {
	r.mu.RLock()
	u, ok := r.users[strings.ToLower(username)]
	r.mu.RUnlock()

	if !ok {
		// Burn a comparison so response timing does not reveal whether the
		// username exists.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup returns the user with the given username, if registered.
func (r *Registry) Lookup(username string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[strings.ToLower(username)]
	return u, ok
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("civitas-timing-pad"), bcrypt.DefaultCost)
