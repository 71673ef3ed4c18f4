package session

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	joinCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// GenerateJoinCode returns a random six character join code
func GenerateJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}

// NormalizeJoinCode upper-cases and trims user input before lookup
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidJoinCode reports whether code is exactly six alphanumeric characters, in any case
func ValidJoinCode(code string) bool {
	if len(code) != joinCodeLength {
		return false
	}
	for _, c := range code {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
