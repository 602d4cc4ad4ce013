// Package roomcode generates and normalizes the short codes that identify
// rooms.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Alphabet is the fixed 36-symbol set for auto-generated codes.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Length of every generated code.
	Length = 6
)

// Generate returns a random 6-character room code. Each symbol is drawn
// uniformly; taking a raw byte modulo 36 would skew toward the start of the
// alphabet. Panics if the system entropy source fails, like uuid.NewString.
func Generate() string {
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("roomcode: entropy source failed: %v", err))
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b)
}

// Normalize trims and uppercases a user-supplied room identifier. Room ids
// are case-insensitive; this is the canonical form stored and routed on.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
