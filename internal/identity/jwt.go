// Package identity validates the token-shaped identity material carried
// in ActivateSession's UserIdentityToken, turning an IssuedIdentityToken
// (spec.md §4.5: "opaque (token-type, key-material) pair") into a
// verified subject the server can log, audit and compare across
// TransferSubscription calls.
//
// Grounded on go-server/internal/auth/jwt.go: same HS256
// parse-and-verify shape, narrowed from HTTP bearer/query-param
// extraction (no transport here, UserIdentityToken already carries the
// raw token bytes) to OPC UA identity-token validation.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subject information the server trusts once a token
// validates.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks IssuedIdentityToken key material against a shared
// secret, for deployments that put an OPC UA gateway behind a JWT
// issuer rather than X.509 user certificates.
type Validator struct {
	secretKey []byte
	issuer    string
	audience  string
}

func NewValidator(secretKey, issuer, audience string) *Validator {
	return &Validator{secretKey: []byte(secretKey), issuer: issuer, audience: audience}
}

// Verify parses and validates tokenString, returning the claims to
// carry forward as the session's UserIdentity key material.
func (v *Validator) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secretKey, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid identity token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid identity token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("identity token missing subject")
	}
	return claims, nil
}

// Expired reports whether claims carry an ExpiresAt in the past, for
// callers that want to reject an otherwise well-formed token issued
// for a session that has outlived it.
func (c *Claims) Expired(now time.Time) bool {
	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
