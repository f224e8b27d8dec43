package auth

import (
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// credentialClaims carries the login identity inside an encrypted-info
// token. The password travels as its hash, never in plain form.
type credentialClaims struct {
	Username       string `json:"username"`
	HashedPassword string `json:"hashed_password"`
	jwt.RegisteredClaims
}

// IssueCredentialToken signs an encrypted-info token for the given
// account. The game stores it for password-less relogins, so it does
// not expire in any practical timeframe.
func IssueCredentialToken(username, hashedPassword, secret string) (string, error) {
	claims := credentialClaims{
		Username:       username,
		HashedPassword: hashedPassword,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Unix(math.MaxInt32, 0)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing credential token: %w", err)
	}
	return signed, nil
}

// ParseCredentialToken verifies an encrypted-info token and returns the
// username and hashed password it carries.
func ParseCredentialToken(tokenString, secret string) (username, hashedPassword string, err error) {
	var claims credentialClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("parsing credential token: %w", err)
	}
	return claims.Username, claims.HashedPassword, nil
}
