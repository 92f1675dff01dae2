// Package tokengen produces short random identifiers that do not collide
// with an existing namespace. The same generator serves short link tokens
// and user ids; callers pass the predicate of the namespace they allocate in.
package tokengen

import (
	"crypto/rand"
	"fmt"
)

const (
	// DefaultLength is the length of generated tokens.
	DefaultLength = 6

	// Alphabet is the set of symbols tokens are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// Bytes at or above this bound are rejected so that every symbol keeps
	// the same probability (248 = 4 * 62).
	unbiasedBound = 256 - 256%len(Alphabet)
)

// ExistsFunc reports whether a token is already taken in the target namespace.
type ExistsFunc func(token string) bool

// Generator draws fixed-length tokens uniformly from Alphabet.
type Generator struct {
	length int
}

// New returns a Generator for tokens of the given length.
// A non-positive length falls back to DefaultLength.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}

	return &Generator{length: length}
}

// Length returns the length of the tokens produced by the generator.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a token for which exists reports false.
// It re-samples on every collision and never gives up: the namespace
// is far larger than the number of tokens ever allocated.
func (g *Generator) Generate(exists ExistsFunc) string {
	for {
		token := g.randomString()
		if !exists(token) {
			return token
		}
	}
}

func (g *Generator) randomString() string {
	result := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)

	for len(result) < g.length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Errorf("in internal/tokengen/tokengen.go/randomString(): error while `rand.Read()` calling: %w", err))
		}
		for _, b := range buf {
			if int(b) >= unbiasedBound {
				continue
			}
			result = append(result, Alphabet[int(b)%len(Alphabet)])
			if len(result) == g.length {
				break
			}
		}
	}

	return string(result)
}
