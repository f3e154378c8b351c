package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := NewValidator("shared-secret", "opcua-server", "opcua-clients")
	claims := Claims{
		Subject: "alice",
		Role:    "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "opcua-server",
			Audience:  jwt.ClaimStrings{"opcua-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	got, err := v.Verify(sign(t, "shared-secret", claims))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if got.Subject != "alice" || got.Role != "operator" {
		t.Fatalf("Verify = %+v, want subject alice role operator", got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	claims := Claims{
		Subject: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "opcua-server",
			Audience:  jwt.ClaimStrings{"opcua-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := sign(t, "wrong-secret", claims)

	v := NewValidator("shared-secret", "opcua-server", "opcua-clients")
	if _, err := v.Verify(token); err == nil {
		t.Fatal("Verify with mismatched secret succeeded, want error")
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "opcua-server",
			Audience:  jwt.ClaimStrings{"opcua-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	v := NewValidator("shared-secret", "opcua-server", "opcua-clients")
	if _, err := v.Verify(sign(t, "shared-secret", claims)); err == nil {
		t.Fatal("Verify with empty subject succeeded, want error")
	}
}

func TestExpiredReportsPastExpiry(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	if !c.Expired(time.Now()) {
		t.Fatal("Expired = false for a token that expired a minute ago")
	}
}

func TestExpiredFalseWhenNoExpiry(t *testing.T) {
	c := &Claims{}
	if c.Expired(time.Now()) {
		t.Fatal("Expired = true for claims with no expiry set")
	}
}
