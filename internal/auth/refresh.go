package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
)

// GenerateRefreshToken returns a random Base64URL token (32 bytes) and its
// SHA-256 hash as hex. Only the hash is ever persisted.
func GenerateRefreshToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", apperr.Wrap(apperr.KindCrypto, "generate refresh token", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken returns SHA-256 hex of the token.
func HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
