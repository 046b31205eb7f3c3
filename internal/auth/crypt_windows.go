//go:build windows

package auth

import wincrypt "github.com/sergeymakinen/go-crypt"

// cryptCompat uses a pure-Go crypt(3) implementation on Windows, where
// no crypt(3) libc exists to shell out to at all.
func cryptCompat(password, salt string) (string, error) {
	return wincrypt.Crypt(password, salt)
}
