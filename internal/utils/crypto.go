// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	apiKeyPrefix = "hl_"
	apiKeyLength = 40
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAPIKey returns a fresh organization API key: the hl_ prefix and 40
// alphanumeric characters drawn from crypto/rand.
func GenerateAPIKey() (string, error) {
	b := make([]byte, len(apiKeyPrefix)+apiKeyLength)
	copy(b, apiKeyPrefix)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := len(apiKeyPrefix); i < len(b); i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[n.Int64()]
	}
	return string(b), nil
}
