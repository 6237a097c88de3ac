package gateway

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// cookieName is the cookie the web client stores its bus token in.
const cookieName = "mqtt_token"

// --------------------------------------------------------------------------
// Claims
// --------------------------------------------------------------------------

// Claims is the token payload the gateway authorizes against. Subs and
// Publ carry topic patterns the credential may subscribe respectively
// publish to; REST access maps onto them.
type Claims struct {
	Subs []string `json:"subs"`
	Publ []string `json:"publ"`
	jwt.RegisteredClaims
}

// LoadPublicKey reads an RS256 verification key in PEM form.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, nil
}

// --------------------------------------------------------------------------
// Request authentication
// --------------------------------------------------------------------------

// bearerToken extracts the raw token from the request, preferring the
// cookie the web client sets and falling back to an Authorization
// header for programmatic callers.
func bearerToken(r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}

// authenticate verifies the request credential and returns its claims.
func (g *Gateway) authenticate(r *http.Request) (*Claims, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, fmt.Errorf("no credential supplied")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return g.cfg.JWTPublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	return claims, nil
}
