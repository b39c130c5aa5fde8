package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Admin is an operator allowed to bypass the cache and trigger runs.
type Admin struct {
	Username     string
	PasswordHash string
}

// Admins is a fixed set of operator credentials loaded from configuration.
type Admins struct {
	byName map[string]Admin
}

// NewAdmins takes username -> bcrypt hash. Entries whose hash is not a
// bcrypt hash are rejected so a plaintext password in config fails loudly.
func NewAdmins(hashes map[string]string) (*Admins, error) {
	a := &Admins{byName: make(map[string]Admin, len(hashes))}
	for name, hash := range hashes {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("admin %s: password hash: %w", name, err)
		}
		a.byName[name] = Admin{Username: name, PasswordHash: hash}
	}
	return a, nil
}

func (a *Admins) Len() int {
	if a == nil {
		return 0
	}
	return len(a.byName)
}

// Verify returns the admin when username and password match.
func (a *Admins) Verify(username, password string) (*Admin, bool) {
	if a == nil {
		return nil, false
	}
	u, ok := a.byName[strings.TrimSpace(strings.ToLower(username))]
	if !ok {
		// compare anyway so unknown users take as long as bad passwords
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, false
	}
	return &u, true
}

// HashPassword is used by the cli to produce config entries.
func HashPassword(password string) (string, error) {
	if len(password) < 8 || len(password) > 72 {
		return "", fmt.Errorf("password must be 8-72 chars")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)
