// Package crypto generates discount token codes from a secure random source.
package crypto

import (
	"crypto/rand"
	"strings"
)

// CodePrefix starts every token code.
const CodePrefix = "DESC"

const (
	alphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	groupLen   = 4
	groupCount = 2
	// largest multiple of len(alphabet) that fits in a byte; bytes above are rejected
	rejectAbove = 256 - 256%len(alphabet)
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewCode returns a code of the form DESC-XXXX-XXXX over [0-9A-Z].
func NewCode() (string, error) {
	chars := make([]byte, 0, groupLen*groupCount)
	buf := make([]byte, 16)
	for len(chars) < cap(chars) {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			chars = append(chars, alphabet[int(b)%len(alphabet)])
			if len(chars) == cap(chars) {
				break
			}
		}
	}
	var sb strings.Builder
	sb.WriteString(CodePrefix)
	for g := 0; g < groupCount; g++ {
		sb.WriteByte('-')
		sb.Write(chars[g*groupLen : (g+1)*groupLen])
	}
	return sb.String(), nil
}

// ValidCode reports whether s has the DESC-XXXX-XXXX shape.
func ValidCode(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != groupCount+1 || parts[0] != CodePrefix {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != groupLen {
			return false
		}
		for i := 0; i < len(p); i++ {
			if strings.IndexByte(alphabet, p[i]) < 0 {
				return false
			}
		}
	}
	return true
}

// NormalizeCode trims surrounding space and uppercases user input.
func NormalizeCode(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// MaskCode hides all but the last group, for logs.
func MaskCode(s string) string {
	i := strings.LastIndexByte(s, '-')
	if i < 0 || i == len(s)-1 {
		return "****"
	}
	return CodePrefix + "-****" + s[i:]
}
