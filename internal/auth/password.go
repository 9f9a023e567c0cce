package auth

import (
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const passwordMinEntropyBits = 60

// ValidatePasswordStrength rejects passwords with too little entropy.
func ValidatePasswordStrength(password string) error {
	return passwordvalidator.Validate(password, passwordMinEntropyBits)
}

// HashPassword hashes the password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
