// Package authtoken issues and verifies the HS256 JWTs jailctl presents to
// jaild over its HTTP/WebSocket API. Both sides derive the same signing key
// from a pre-shared secret via HKDF rather than exchanging the raw secret
// as the signing key directly, so rotating the JWT's purpose (e.g. splitting
// run-tokens from admin-tokens) never requires rotating the secret itself.
package authtoken

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Claims identifies a caller and the commands it's allowed to invoke.
// An empty AllowedCommands means no restriction beyond what the server's
// own registry permits.
type Claims struct {
	jwt.RegisteredClaims
	AllowedCommands []string `json:"cmds,omitempty"`
}

// deriveSigningKey expands secret into a 32-byte HMAC key scoped to info, so
// the same pre-shared secret can back multiple independent token purposes.
func deriveSigningKey(secret []byte, info string) ([]byte, error) {
	salt := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("authtoken: hkdf: %w", err)
	}
	return key, nil
}

const tokenInfo = "jail-service-token"

// Issue signs a token asserting subject's identity and allowed commands,
// valid for ttl.
func Issue(secret []byte, subject string, allowedCommands []string, ttl time.Duration) (string, error) {
	key, err := deriveSigningKey(secret, tokenInfo)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AllowedCommands: allowedCommands,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks tokenString's signature and expiry and returns its claims.
func Verify(secret []byte, tokenString string) (*Claims, error) {
	key, err := deriveSigningKey(secret, tokenInfo)
	if err != nil {
		return nil, err
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authtoken: parse: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("authtoken: invalid token")
	}
	return claims, nil
}

// Allows reports whether claims permits invoking the named command.
func (c *Claims) Allows(command string) bool {
	if len(c.AllowedCommands) == 0 {
		return true
	}
	for _, allowed := range c.AllowedCommands {
		if allowed == command {
			return true
		}
	}
	return false
}
