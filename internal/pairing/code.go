// Package pairing generates and validates the one-time codes a guest uses to
// find a hosting device, and resolves them to a transport target.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// CodeLength is the number of symbols in a pairing code.
const CodeLength = 10

// alphabet is Crockford's base32: no I, L, O or U, so hand-typed codes survive
// transcription.
const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	// ErrInvalidCode is returned for codes that are malformed before any lookup.
	ErrInvalidCode = errors.New("invalid pairing code")
	// ErrPeerUnavailable is returned when no host currently advertises the code.
	ErrPeerUnavailable = errors.New("no host is advertising this code")
)

// Code is a validated pairing code in canonical form (upper case, no separators).
type Code string

// GenerateCode returns a fresh random code. Each symbol carries 5 bits drawn
// from crypto/rand, so codes cannot be derived from earlier ones.
func GenerateCode() (Code, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	var b strings.Builder
	b.Grow(CodeLength)
	for _, v := range buf {
		b.WriteByte(alphabet[v&31])
	}
	return Code(b.String()), nil
}

// ParseCode normalizes hand-typed input and validates it. Case, spaces and
// dashes are ignored; O is read as 0 and I or L as 1.
func ParseCode(s string) (Code, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch r {
		case ' ', '-', '\t':
			continue
		case 'O':
			r = '0'
		case 'I', 'L':
			r = '1'
		}
		if !strings.ContainsRune(alphabet, r) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidCode, r)
		}
		b.WriteRune(r)
	}
	if b.Len() != CodeLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidCode, CodeLength, b.Len())
	}
	return Code(b.String()), nil
}

// String renders the code in two dash-separated groups for display.
func (c Code) String() string {
	if len(c) != CodeLength {
		return string(c)
	}
	return string(c[:CodeLength/2]) + "-" + string(c[CodeLength/2:])
}
