// Package utils mints access tokens in the format JWTAuth accepts.  The
// identity service owns token issuance in production; this helper backs the
// tokengen command used to provision camera devices and the HTTP tests.
package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken signs an HS256 token with sub, role, iat and exp claims.
// A non-zero clientID adds the client_id claim that scopes CLIENT tokens
// to one lot owner.
func NewAccessToken(secret string, userID uint64, role string, clientID uint64, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	if clientID != 0 {
		claims["client_id"] = clientID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
