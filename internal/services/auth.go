package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// serviceToken mints a short-lived HS256 bearer token for calls to the
// internal wallet and user services.
func serviceToken(secret []byte, issuer, audience string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}
