// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package auth

import (
	"errors"
	"testing"
)

func TestAddUserAndAuthenticate(t *testing.T) {
	r := NewRegistry()

	u, err := r.AddUser("Alice", "correct horse battery", RoleMember)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	if u.ID == "" || u.Role != RoleMember {
		t.Errorf("user = %+v", u)
	}

	got, err := r.Authenticate("alice", "correct horse battery")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("authenticated id = %s, want %s", got.ID, u.ID)
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	r := NewRegistry()
	if _, err := r.AddUser("alice", "correct horse battery", RoleMember); err != nil {
		t.Fatalf("add user: %v", err)
	}

	if _, err := r.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := r.Authenticate("nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAddUserValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.AddUser("", "longenoughpassword", RoleMember); err == nil {
		t.Error("empty username accepted")
	}
	if _, err := r.AddUser("bob", "short", RoleMember); err == nil {
		t.Error("short password accepted")
	}
	if _, err := r.AddUser("bob", "longenoughpassword", "superuser"); err == nil {
		t.Error("unknown role accepted")
	}
	if _, err := r.AddUser("carol", "longenoughpassword", RoleAdmin); err != nil {
		t.Errorf("valid admin rejected: %v", err)
	}
	if _, err := r.AddUser("CAROL", "longenoughpassword", RoleMember); err == nil {
		t.Error("case-insensitive duplicate accepted")
	}
}
