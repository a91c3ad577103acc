package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies session tokens
	TokenPrefix = "hg_"
	// displayPrefixLength is how many encoded characters are kept for logs
	displayPrefixLength = 8
)

// HashToken computes the SHA256 hash of a token for lookup.
// Sessions are stored by hash only.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that token is hg_<base64url>.
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// DisplayPrefix returns a loggable prefix of token (never the whole secret).
func DisplayPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) > displayPrefixLength {
		encoded = encoded[:displayPrefixLength]
	}
	return TokenPrefix + encoded
}
