// ABOUTME: Session token issuance and parsing for metagram API clients.
// ABOUTME: Always enforces HS256, issuer and expiration. Never call jwt.Parse directly.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into every session token and required on parse.
const Issuer = "metagram"

// SessionClaims holds the claims embedded in a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID shadows RegisteredClaims.Subject so "sub" decodes straight into a
	// UUID. encoding/json picks the outermost field on tag collisions.
	UserID uuid.UUID `json:"sub"`
}

// IssueSessionToken creates a signed HS256 session token for userID valid
// from now until now+ttl.
func IssueSessionToken(secret []byte, userID uuid.UUID, ttl time.Duration, now time.Time) (string, error) {
	if userID == uuid.Nil {
		return "", errors.New("issue session token: nil user id")
	}
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates and parses an HS256 session token.
// Returns an error if the token is expired, uses a wrong algorithm or issuer,
// or carries no user.
func ParseSessionToken(tokenStr string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("parse session token: missing subject")
	}
	return claims, nil
}
