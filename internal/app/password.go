package app

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordChecker hashes new passwords with bcrypt and verifies stored ones.
//
// Records written by older deployments hold the password in plaintext.
// Those only match when legacy plaintext support is switched on.
type PasswordChecker struct {
	legacyPlaintext bool
	cost            int
}

// NewPasswordChecker returns a checker. A cost of 0 selects bcrypt.DefaultCost.
func NewPasswordChecker(legacyPlaintext bool, cost int) *PasswordChecker {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordChecker{legacyPlaintext: legacyPlaintext, cost: cost}
}

// LegacyPlaintext reports whether plaintext records are accepted.
func (p *PasswordChecker) LegacyPlaintext() bool { return p.legacyPlaintext }

// Hash returns the bcrypt hash of password.
func (p *PasswordChecker) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// HashIfPlain hashes stored unless it is empty or already a bcrypt hash.
func (p *PasswordChecker) HashIfPlain(stored string) (string, error) {
	if stored == "" || isBcryptHash(stored) {
		return stored, nil
	}
	return p.Hash(stored)
}

// Check reports whether password matches the stored value.
func (p *PasswordChecker) Check(stored, password string) bool {
	if stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	if !p.legacyPlaintext {
		return false
	}
	// Insecure: plaintext record.
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
