package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Alphabet is the set of symbols used in license codes. Visually confusable
// characters (0/O, 1/I/L) are excluded so codes survive being read over the
// phone or typed from paper.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codePattern matches the exact XXXX-XXXX-XXXX grouping over Alphabet.
var codePattern = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{4}-[A-HJKMNP-Z2-9]{4}-[A-HJKMNP-Z2-9]{4}$`)

var whitespace = regexp.MustCompile(`\s+`)

// GenerateCode returns a new random license code in XXXX-XXXX-XXXX format.
// Uniqueness against the store is the issuer's responsibility, not this
// function's.
func GenerateCode() (string, error) {
	raw, err := randomFromAlphabet(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", raw[0:4], raw[4:8], raw[8:12]), nil
}

// randomFromAlphabet draws length symbols from Alphabet using crypto/rand.
// Rejection sampling keeps the distribution uniform: bytes >= the largest
// multiple of len(Alphabet) are discarded instead of taken modulo.
func randomFromAlphabet(length int) (string, error) {
	n := len(Alphabet)
	max := byte((256 / n) * n)

	var b strings.Builder
	b.Grow(length)

	buf := make([]byte, length)
	for b.Len() < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, v := range buf {
			if v >= max {
				continue
			}
			b.WriteByte(Alphabet[int(v)%n])
			if b.Len() == length {
				break
			}
		}
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes user input: trims, uppercases and strips all
// whitespace. It does not validate.
func NormalizeCode(code string) string {
	return whitespace.ReplaceAllString(strings.ToUpper(strings.TrimSpace(code)), "")
}

// IsValidCodeFormat reports whether code (after normalization) matches the
// exact XXXX-XXXX-XXXX grouping over the restricted alphabet.
func IsValidCodeFormat(code string) bool {
	return codePattern.MatchString(NormalizeCode(code))
}
