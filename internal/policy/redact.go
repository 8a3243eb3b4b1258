package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const (
	redactedMask   = "[REDACTED]"
	maxStoredValue = 1024
)

var sensitiveKeyFragments = []string{"token", "secret", "password", "credential", "api_key", "auth"}

// RedactArgs returns a JSON encoding of args safe for persistence:
// secret-shaped keys are masked and oversized values truncated. Raw secrets
// never reach the store.
func RedactArgs(args map[string]interface{}) json.RawMessage {
	redacted := make(map[string]interface{}, len(args))
	for key, value := range args {
		if isSensitiveKey(key) {
			redacted[key] = redactedMask
			continue
		}
		if s, ok := value.(string); ok && len(s) > maxStoredValue {
			redacted[key] = s[:maxStoredValue] + "..."
			continue
		}
		redacted[key] = value
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// HashArgs returns a stable content hash of the full argument map. Map keys
// are marshaled in sorted order, so equal maps hash equally.
func HashArgs(args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashConstraint hashes a single constraint value for override matching.
func HashConstraint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
