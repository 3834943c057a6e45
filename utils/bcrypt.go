package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a business switch password at the default cost.
// The hash lives inside the user document, so it travels with backups
// and restores.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// ComparePassword returns nil when the plaintext matches the stored
// hash.
func ComparePassword(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
