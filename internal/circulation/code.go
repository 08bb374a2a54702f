package circulation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	codeRandomDigits  = 5
	codeTimestampForm = "20060102150405"
)

var codeRandomBound = big.NewInt(100000)

// CodeGenerator produces transaction codes of the form
// {prefix}{5 random digits}{YYYYMMDDHHMMSS}.
type CodeGenerator func(now time.Time) (string, error)

// NewCodeGenerator returns a generator for the given school prefix.
func NewCodeGenerator(prefix string) CodeGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	return func(now time.Time) (string, error) {
		n, err := rand.Int(rand.Reader, codeRandomBound)
		if err != nil {
			return "", fmt.Errorf("generate code suffix: %w", err)
		}
		return fmt.Sprintf("%s%0*d%s", prefix, codeRandomDigits, n.Int64(), now.UTC().Format(codeTimestampForm)), nil
	}
}
