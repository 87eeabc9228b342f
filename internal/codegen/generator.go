// Package codegen produces short, human-presentable room codes
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxAttempts bounds the number of candidates drawn before giving up
const DefaultMaxAttempts = 50

// ErrGenerationExhausted is returned when no acceptable code was found within the attempt ceiling
var ErrGenerationExhausted = errors.New("room code generation exhausted")

// UniquenessCheck reports whether a candidate code is not yet taken
type UniquenessCheck func(ctx context.Context, code string) (bool, error)

// ContentPolicy reports whether a candidate code is acceptable to show to users
type ContentPolicy func(code string) bool

// Generator draws codes uniformly from an alphabet
type Generator struct {
	alphabet    []rune
	length      int
	maxAttempts int
}

// NewGenerator creates a generator for codes of the given length. The
// alphabet is limited to upper-case ASCII letters and digits, the shape
// lookups accept after upper-casing user input.
func NewGenerator(alphabet string, length, maxAttempts int) (*Generator, error) {
	runes := []rune(alphabet)
	if len(runes) < 2 {
		return nil, fmt.Errorf("alphabet must contain at least two symbols")
	}
	if err := validator.New().Var(alphabet, "alphanum,uppercase"); err != nil {
		return nil, fmt.Errorf("alphabet must only contain upper-case letters A-Z and digits: %q", alphabet)
	}
	if length <= 0 {
		return nil, fmt.Errorf("code length must be positive, got %d", length)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		alphabet:    runes,
		length:      length,
		maxAttempts: maxAttempts,
	}, nil
}

// Length returns the length of generated codes
func (g *Generator) Length() int {
	return g.length
}

// Generate draws candidates until one passes both checks. Either check may be nil.
func (g *Generator) Generate(ctx context.Context, isUnique UniquenessCheck, isAllowed ContentPolicy) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := g.candidate()
		if err != nil {
			return "", fmt.Errorf("failed to draw room code: %w", err)
		}

		if isAllowed != nil && !isAllowed(code) {
			continue
		}

		if isUnique != nil {
			unique, err := isUnique(ctx, code)
			if err != nil {
				return "", fmt.Errorf("failed to check room code uniqueness: %w", err)
			}
			if !unique {
				continue
			}
		}

		return code, nil
	}

	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, g.maxAttempts)
}

func (g *Generator) candidate() (string, error) {
	max := big.NewInt(int64(len(g.alphabet)))
	var sb strings.Builder
	sb.Grow(g.length)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteRune(g.alphabet[n.Int64()])
	}
	return sb.String(), nil
}
