// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateRnd returns 32 bytes of random data hex-encoded. Used for
// primary keys and auth challenge data.
func GenerateRnd() string {
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		// crypto/rand failure is not recoverable
		panic(fmt.Sprintf("rng failure: %v", err))
	}
	return hex.EncodeToString(data)
}

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a hex string without prefix.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FormatPiconero formats an atomic-unit amount as a decimal XMR string.
// For example, FormatPiconero(big 1e12) returns "1".
func FormatPiconero(amount *big.Int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)
	whole := new(big.Int).Div(amount, divisor)
	frac := new(big.Int).Mod(amount, divisor)
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := fmt.Sprintf("%012d", frac)
	for len(fracStr) > 0 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}
	return fmt.Sprintf("%s.%s", whole.String(), fracStr)
}

// ParsePiconero parses a decimal XMR string into atomic units.
func ParsePiconero(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}
	var wholeStr, fracStr string
	for i, c := range s {
		if c == '.' {
			wholeStr = s[:i]
			fracStr = s[i+1:]
			break
		}
	}
	if wholeStr == "" {
		wholeStr = s
	}
	for _, c := range wholeStr + fracStr {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid character in amount: %c", c)
		}
	}
	for len(fracStr) < 12 {
		fracStr += "0"
	}
	if len(fracStr) > 12 {
		fracStr = fracStr[:12]
	}
	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}

// ShortID truncates an identifier for log output.
func ShortID(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
