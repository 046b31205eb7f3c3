// Package auth hashes and verifies the bearer tokens a host process
// presents to claim native-function capabilities, and verifies legacy
// crypt(3)-style password hashes carried over from systems this VM
// embeds into. Mirrors the teacher's crypto builtins split between a
// platform-neutral algorithm file and per-OS crypt(3) compatibility
// shims (crypt_unix.go/crypt_windows.go).
package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashToken derives a storable, non-reversible hash of a bearer token.
// The plaintext token is never retained once this returns.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash token: %w", err)
	}
	return string(h), nil
}

// VerifyToken reports whether token hashes to hash.
func VerifyToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// constantTimeEqual compares two short strings without leaking timing
// information about where they first differ, for callers comparing
// already-hashed material rather than going through bcrypt.
func constantTimeEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Grant is one capability binding: a token's hash, and the native
// function names it authorizes a NativeCall/ModuleNativeCall to reach.
type Grant struct {
	TokenHash string
	Functions map[string]bool
}

// Registry is the capability-token table a VM's native registry
// consults before letting a NativeCall through: a token must hash to
// a known Grant, and the grant must list the function being called.
type Registry struct {
	grants []Grant
}

// NewRegistry creates an empty capability registry. Every native call
// is denied until at least one grant is issued.
func NewRegistry() *Registry {
	return &Registry{}
}

// Issue hashes token and grants it access to the given native
// function names, returning the stored hash so a caller can persist it
// (e.g. into a snapshot's metadata) without ever persisting the token
// itself.
func (r *Registry) Issue(token string, functions []string) (string, error) {
	hash, err := HashToken(token)
	if err != nil {
		return "", err
	}
	fns := make(map[string]bool, len(functions))
	for _, f := range functions {
		fns[f] = true
	}
	r.grants = append(r.grants, Grant{TokenHash: hash, Functions: fns})
	return hash, nil
}

// Revoke removes every grant whose hash matches hash exactly (hashes
// are unique per Issue call, so this is normally one grant).
func (r *Registry) Revoke(hash string) {
	kept := r.grants[:0]
	for _, g := range r.grants {
		if !constantTimeEqual(g.TokenHash, hash) {
			kept = append(kept, g)
		}
	}
	r.grants = kept
}

// Allowed reports whether token authorizes a call to native function
// fn. Every stored grant must be checked since bcrypt hashes embed a
// random salt and can't be looked up by key.
func (r *Registry) Allowed(token, fn string) bool {
	for _, g := range r.grants {
		if g.Functions[fn] && VerifyToken(g.TokenHash, token) {
			return true
		}
	}
	return false
}
