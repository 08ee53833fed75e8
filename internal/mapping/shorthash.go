package mapping

import (
	"crypto/rand"
	"io"
	"strings"
)

const (
	ShortHashLength = 6
	// Alphabet is the Bitcoin base58 alphabet.
	Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

var randSource io.Reader = rand.Reader

// NewShortHash returns ShortHashLength uniformly random base58 characters.
// Uniqueness is not checked here; see Resolver.Known.
func NewShortHash() (string, error) {
	const maxByte = 256 - 256%len(Alphabet)
	out := make([]byte, 0, ShortHashLength)
	buf := make([]byte, ShortHashLength*2)
	for len(out) < ShortHashLength {
		if _, err := io.ReadFull(randSource, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == ShortHashLength {
				break
			}
		}
	}
	return string(out), nil
}

func ValidShortHash(s string) bool {
	if len(s) != ShortHashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(Alphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
