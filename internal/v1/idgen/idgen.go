// Package idgen generates short, human-typeable room ids from a restricted
// alphabet that excludes visually ambiguous characters (0/O, 1/I).
package idgen

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// Alphabet is the fixed character set room ids are drawn from. It excludes
// 0, 1, I, O to avoid ambiguity when a user reads a code aloud or copies
// it by hand.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the number of characters generated when no explicit
// length is configured.
const DefaultLength = 6

// MaxAttempts bounds how many collisions Generate tolerates before giving up
// in favor of ErrExhausted, per the room id allocation invariant: retries
// are bounded, not unlimited.
const MaxAttempts = 10

// ErrExhausted is returned by Generate when MaxAttempts consecutive
// candidates were all rejected by exists.
var ErrExhausted = errors.New("idgen: exhausted attempts generating a unique room id")

// Generator produces room ids of a fixed length.
type Generator struct {
	length int
}

// New constructs a Generator for the given length. Lengths outside [6, 8]
// are clamped to DefaultLength, matching the external-interface constraint
// on room id length.
func New(length int) *Generator {
	if length < 6 || length > 8 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// one draws a single random id candidate of the generator's configured
// length, drawing each character uniformly from the alphabet with
// crypto/rand.Int.
func (g *Generator) one() (string, error) {
	buf := make([]byte, g.length)
	alphabetLen := big.NewInt(int64(len(Alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Generate produces a room id not rejected by exists, retrying up to
// MaxAttempts times on collision before returning ErrExhausted. exists
// should check both the live registry and the durable store, since a room
// id must be unique across both.
func (g *Generator) Generate(exists func(id string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		candidate, err := g.one()
		if err != nil {
			return "", err
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}
