package qp

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	// DefaultIDLength is the length of generated record identifiers.
	DefaultIDLength = 12
	// DefaultIDAttempts bounds the verified-unique generation loop.
	DefaultIDAttempts = 8
)

// ExistsFunc reports whether an identifier is already taken.
type ExistsFunc func(id string) (bool, error)

// IdentityGenerator produces short collision-resistant record identifiers:
// a random seed is hashed and the digest reduced to the [a-zA-Z0-9]
// alphabet. Every candidate is verified against an exists predicate; on a
// collision a fresh seed is drawn, up to MaxAttempts times.
type IdentityGenerator struct {
	// Seed produces the raw material for one candidate id. Defaults to a
	// random UUID; tests substitute deterministic seeds.
	Seed func() string

	MinLength   int
	MaxAttempts int
}

// NewIdentityGenerator returns a generator with default length and retry
// bounds.
func NewIdentityGenerator() *IdentityGenerator {
	return &IdentityGenerator{
		Seed:        func() string { return uuid.New().String() },
		MinLength:   DefaultIDLength,
		MaxAttempts: DefaultIDAttempts,
	}
}

// Generate returns a new identifier that the exists predicate does not know.
// A nil predicate skips verification. Returns ErrDuplicateIdentifier when
// MaxAttempts candidates in a row turned out to be taken.
func (g *IdentityGenerator) Generate(exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		id := shortHash(g.Seed(), g.MinLength)
		if exists == nil {
			return id, nil
		}
		taken, err := exists(id)
		if err != nil {
			return "", fmt.Errorf("checking identifier uniqueness: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generating identifier (%d attempts): %w", g.MaxAttempts, ErrDuplicateIdentifier)
}

// shortHash hashes s and re-encodes the digest in base 62, returning the
// first length characters.
func shortHash(s string, length int) string {
	sum := sha256.Sum256([]byte(s))
	x := new(big.Int).SetBytes(sum[:])
	base := big.NewInt(int64(len(idAlphabet)))
	mod := new(big.Int)

	buf := make([]byte, 0, length)
	for len(buf) < length && x.Sign() > 0 {
		x.DivMod(x, base, mod)
		buf = append(buf, idAlphabet[mod.Int64()])
	}
	// A 256-bit digest yields 43 base-62 digits; padding only matters for
	// lengths beyond that.
	for len(buf) < length {
		buf = append(buf, idAlphabet[0])
	}
	return string(buf)
}
