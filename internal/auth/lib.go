package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const bearerPrefix = "Bearer "

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// TokenFromHeader returns the bearer token of an Authorization header value,
// or "" when the header does not carry one.
func TokenFromHeader(header string) string {
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(header[len(bearerPrefix):])
}
