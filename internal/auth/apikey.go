package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	apiKeyPrefix  = "sk_live_"
	apiKeyShape   = "sk_"
	secretBytes   = 32
	displayLength = 8
)

// GenerateAPIKey returns a new plaintext key and its display prefix. The
// plaintext is shown to the owner once and only its hash is stored.
func GenerateAPIKey() (key, display string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	key = apiKeyPrefix + secret
	return key, DisplayPrefix(key), nil
}

// DisplayPrefix is what listings show in place of the key: sk_live_ plus the
// first eight secret characters.
func DisplayPrefix(key string) string {
	secret := strings.TrimPrefix(key, apiKeyPrefix)
	if len(secret) > displayLength {
		secret = secret[:displayLength]
	}
	return apiKeyPrefix + secret + "..."
}

// LooksLikeAPIKey reports whether token has the API key shape rather than a
// session token.
func LooksLikeAPIKey(token string) bool {
	return strings.HasPrefix(token, apiKeyShape)
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
