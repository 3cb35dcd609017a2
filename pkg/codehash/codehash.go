// Package codehash normalizes and hashes recharge codes so plaintext codes
// are never persisted or compared directly.
package codehash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyCode is returned when a code normalizes to nothing.
var ErrEmptyCode = errors.New("empty recharge code")

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroupSize  = 4
	codeGroupCount = 4
	groupSeparator = "-"
)

// Normalize uppercases the input and strips every character outside [A-Z0-9].
// "abcd-1234 efgh-5678" and "ABCD1234EFGH5678" normalize identically.
func Normalize(raw string) string {
	upper := strings.ToUpper(raw)
	var builder strings.Builder
	builder.Grow(len(upper))
	for _, char := range upper {
		if (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') {
			builder.WriteRune(char)
		}
	}
	return builder.String()
}

// Hash returns the lowercase hex SHA-256 digest of the normalized code.
func Hash(raw string) (string, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return "", ErrEmptyCode
	}
	digest := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:]), nil
}

// Generate produces a random code in the client-facing format: four
// dash-separated groups of four alphanumeric characters.
func Generate() (string, error) {
	raw := make([]byte, codeGroupSize*codeGroupCount)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	groups := make([]string, 0, codeGroupCount)
	for groupIndex := 0; groupIndex < codeGroupCount; groupIndex++ {
		var group strings.Builder
		for charIndex := 0; charIndex < codeGroupSize; charIndex++ {
			randomByte := raw[groupIndex*codeGroupSize+charIndex]
			group.WriteByte(codeAlphabet[int(randomByte)%len(codeAlphabet)])
		}
		groups = append(groups, group.String())
	}
	return strings.Join(groups, groupSeparator), nil
}
