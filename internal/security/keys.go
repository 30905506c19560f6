package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// VirtualKeyPrefix prefixes every generated virtual key secret.
const VirtualKeyPrefix = "sk-"

const virtualKeyRandomBytes = 36

// GenerateVirtualKey returns a new random virtual key secret.
func GenerateVirtualKey() (string, error) {
	buf := make([]byte, virtualKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate virtual key: %w", err)
	}
	return VirtualKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// DefaultAlias derives the display alias for a secret: "sk-..." plus its last four characters.
func DefaultAlias(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= 4 {
		return VirtualKeyPrefix + "..." + secret
	}
	return VirtualKeyPrefix + "..." + secret[len(secret)-4:]
}

// HashKey returns the keyed hash used to look up a virtual key without storing it in clear.
func HashKey(secret, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
