package dispatch

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const defaultCodeLength = 6

// NumericCodeGenerator draws uniformly distributed decimal codes from crypto/rand.
type NumericCodeGenerator struct {
	Length int
}

func NewNumericCodeGenerator(length int) NumericCodeGenerator {
	if length <= 0 {
		length = defaultCodeLength
	}
	return NumericCodeGenerator{Length: length}
}

func (g NumericCodeGenerator) Generate() (string, error) {
	length := g.Length
	if length <= 0 {
		length = defaultCodeLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("dispatch: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}
