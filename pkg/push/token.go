package push

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Token is a device token in its canonical lower-case hex form.
type Token string

// RawToken encodes the binary token delivered to the device.
func RawToken(b []byte) Token {
	return Token(hex.EncodeToString(b))
}

// HexToken canonicalizes a hex encoded token. Surrounding whitespace, angle
// brackets and interior spaces (the form devices often log) are stripped.
func HexToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return RawToken(b), nil
}

// Normalize returns the canonical form of t. It is idempotent.
func (t Token) Normalize() (Token, error) {
	return HexToken(string(t))
}

// Bytes decodes the token back to its binary form.
func (t Token) Bytes() ([]byte, error) {
	return hex.DecodeString(string(t))
}

func (t Token) String() string { return string(t) }
