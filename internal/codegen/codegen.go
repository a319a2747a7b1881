// Package codegen produces human-presentable redemption codes.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Prefix is prepended to every generated code.
	Prefix = "BDAY-"
	// SuffixLength is the number of random characters after the prefix.
	SuffixLength = 8
	// Alphabet omits I, O, 0 and 1 so codes can be read aloud at a till.
	// Its length is 32, so a byte masked to 5 bits indexes it without bias.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// ErrMalformedCode is returned by Normalize for input that could never have
// been produced by the generator.
var ErrMalformedCode = errors.New("malformed coupon code")

// Generator draws codes from a random source.
type Generator struct {
	rand io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader returns a Generator reading randomness from r.
// This is primarily used for testing.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a new code such as "BDAY-7KQ2MZXA".
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, SuffixLength)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.Grow(len(Prefix) + SuffixLength)
	sb.WriteString(Prefix)
	for _, b := range buf {
		sb.WriteByte(Alphabet[b&0x1f])
	}
	return sb.String(), nil
}

// Normalize trims and uppercases raw and checks it against the generator's
// format. It never touches storage.
func Normalize(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != len(Prefix)+SuffixLength || !strings.HasPrefix(code, Prefix) {
		return "", ErrMalformedCode
	}
	for _, r := range code[len(Prefix):] {
		if !strings.ContainsRune(Alphabet, r) {
			return "", ErrMalformedCode
		}
	}
	return code, nil
}
