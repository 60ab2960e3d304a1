package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrAdminSecretMismatch is returned when the presented admin secret does not
// match the configured hash, or no hash is configured.
var ErrAdminSecretMismatch = errors.New("admin secret mismatch")

// HashAdminSecret returns the bcrypt hash stored in auth.admin_secret_hash.
func HashAdminSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAdminSecret compares secret against hash.
func CheckAdminSecret(hash, secret string) error {
	if hash == "" || secret == "" {
		return ErrAdminSecretMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrAdminSecretMismatch
	}
	return nil
}
