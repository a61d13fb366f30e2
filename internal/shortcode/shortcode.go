// Package shortcode validates and generates the short codes links are reachable under.
package shortcode

import (
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of symbols a short code is made of.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// MinLength and MaxLength bound the length of an accepted code.
	MinLength = 6
	MaxLength = 8

	// DefaultLength is the length of generated codes.
	DefaultLength = 6
)

var codeRe = regexp.MustCompile(`^[A-Za-z0-9]{6,8}$`)

// IsValid reports whether code is 6 to 8 characters long and made only of Alphabet symbols.
func IsValid(code string) bool {
	return codeRe.MatchString(code)
}

// Generate returns a code of exactly length symbols drawn uniformly from Alphabet
// using crypto/rand. It panics if length is not positive.
func Generate(length int) string {
	return gonanoid.MustGenerate(Alphabet, length)
}
