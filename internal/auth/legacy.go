package auth

// cryptCompat computes a crypt(3)-compatible hash of password under
// salt, implemented per-platform in crypt_unix.go/crypt_windows.go.
// Exists so credentials carried over from a crypt(3)-hashed user
// database can be verified without forcing every embedder to rehash
// on migration.

// VerifyLegacyCrypt reports whether password matches a crypt(3) hash
// produced for some earlier salt, extracting that salt from the front
// of hash the same way crypt(3) itself expects it to be found.
func VerifyLegacyCrypt(hash, password string) bool {
	if len(hash) < 2 {
		return false
	}
	salt := hash[:2]
	if len(hash) >= 3 && hash[0] == '$' {
		// Modern $id$salt$hash form: salt runs up to the third '$'.
		end := -1
		count := 0
		for i, c := range hash {
			if c == '$' {
				count++
				if count == 3 {
					end = i
					break
				}
			}
		}
		if end < 0 {
			return false
		}
		salt = hash[:end]
	}

	computed, err := cryptCompat(password, salt)
	if err != nil {
		return false
	}
	return constantTimeEqual(computed, hash)
}
