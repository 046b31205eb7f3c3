//go:build !windows

package auth

import gocrypt "github.com/amoghe/go-crypt"

// cryptCompat uses a pure-Go crypt(3) implementation on Unix targets,
// where the teacher shelled out to cgo and the system libc instead;
// this avoids requiring a C toolchain just to verify a legacy password.
func cryptCompat(password, salt string) (string, error) {
	return gocrypt.Crypt(password, salt)
}
