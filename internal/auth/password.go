package auth

import (
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the default bcrypt cost factor
	DefaultCost = 12

	// MinSecretLength is the shortest accepted API client secret
	MinSecretLength = 16
)

// HashSecret creates a bcrypt hash of an API client secret
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckSecret compares a secret with a bcrypt hash
func CheckSecret(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// ValidateSecretStrength checks that a client secret is long enough and mixes
// letters with digits.
func ValidateSecretStrength(secret string) bool {
	if len(secret) < MinSecretLength {
		return false
	}

	hasLetter := false
	hasNumber := false
	for _, char := range secret {
		switch {
		case char >= 'A' && char <= 'Z', char >= 'a' && char <= 'z':
			hasLetter = true
		case char >= '0' && char <= '9':
			hasNumber = true
		}
	}
	return hasLetter && hasNumber
}
