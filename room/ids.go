package room

import (
	"fmt"
	"strings"

	"github.com/jmcvetta/randutil"
)

// IDGenerator produces candidate room codes.
type IDGenerator func() (string, error)

// DefaultCodeLength is the length of generated room codes.
const DefaultCodeLength = 5

// RandomCodes generates upper-case alphanumeric codes of the given length.
func RandomCodes(length int) IDGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return func() (string, error) {
		code, err := randutil.String(length, randutil.Alphanumeric)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		return strings.ToUpper(code), nil
	}
}
