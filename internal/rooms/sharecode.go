package rooms

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const shareCodeDigits = 8

var shareCodeSpace = big.NewInt(100_000_000)

// NewShareCode returns a random 8-digit numeric share code.
func NewShareCode() (string, error) {
	n, err := rand.Int(rand.Reader, shareCodeSpace)
	if err != nil {
		return "", err
	}
	code := n.String()
	return strings.Repeat("0", shareCodeDigits-len(code)) + code, nil
}

// NormalizeShareCode trims and upper-cases a user-typed code.
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
