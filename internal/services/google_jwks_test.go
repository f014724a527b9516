package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type googleFixture struct {
	key      *rsa.PrivateKey
	verifier *GoogleVerifier
	fetches  int
}

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &googleFixture{key: key}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches++
		json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA",
			Kid: "kid-1",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)

	f.verifier = NewGoogleVerifier()
	f.verifier.jwksURL = srv.URL
	return f
}

func (f *googleFixture) sign(t *testing.T, claims GoogleClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	s, err := token.SignedString(f.key)
	require.NoError(t, err)
	return s
}

func validGoogleClaims() GoogleClaims {
	return GoogleClaims{
		Email:         "ada@example.com",
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "google-sub-1",
			Audience:  jwt.ClaimStrings{"client-123"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestGoogleVerifier_Valid(t *testing.T) {
	f := newGoogleFixture(t)

	claims, err := f.verifier.Verify(context.Background(), f.sign(t, validGoogleClaims()), "client-123")
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)

	// keys are cached between verifications
	_, err = f.verifier.Verify(context.Background(), f.sign(t, validGoogleClaims()), "client-123")
	require.NoError(t, err)
	assert.Equal(t, 1, f.fetches)
}

func TestGoogleVerifier_Rejects(t *testing.T) {
	f := newGoogleFixture(t)

	cases := map[string]func(c *GoogleClaims){
		"wrong audience": func(c *GoogleClaims) { c.Audience = jwt.ClaimStrings{"other"} },
		"wrong issuer":   func(c *GoogleClaims) { c.Issuer = "https://evil.example.com" },
		"expired":        func(c *GoogleClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour)) },
		"unverified":     func(c *GoogleClaims) { c.EmailVerified = false },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			claims := validGoogleClaims()
			mutate(&claims)
			_, err := f.verifier.Verify(context.Background(), f.sign(t, claims), "client-123")
			assert.Error(t, err)
		})
	}
}
