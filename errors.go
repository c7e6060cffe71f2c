package anycap

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// A ShapeError indicates that a tensor did not have the
// dimensions an operation requires.
type ShapeError struct {
	Op       string
	What     string
	Expected int
	Actual   int

	// Multiple is set when any positive multiple of
	// Expected would have been accepted.
	Multiple bool
}

// Error returns a description of the mismatch.
func (s *ShapeError) Error() string {
	if s.Multiple {
		return fmt.Sprintf("%s: %s should have a size divisible by %d but has %d",
			s.Op, s.What, s.Expected, s.Actual)
	}
	return fmt.Sprintf("%s: %s should have size %d but has %d", s.Op, s.What,
		s.Expected, s.Actual)
}

// CheckLen panics with a *ShapeError if v does not have
// the expected length.
func CheckLen(op, what string, v anyvec.Vector, expected int) {
	if v.Len() != expected {
		panic(&ShapeError{Op: op, What: what, Expected: expected, Actual: v.Len()})
	}
}

// BatchSize divides the length of v by the length of one
// packed row.
// It panics with a *ShapeError if the division is not
// exact or yields an empty batch.
func BatchSize(op, what string, v anyvec.Vector, rowSize int) int {
	if rowSize <= 0 || v.Len() == 0 || v.Len()%rowSize != 0 {
		panic(&ShapeError{Op: op, What: what, Expected: rowSize, Actual: v.Len(),
			Multiple: true})
	}
	return v.Len() / rowSize
}

// A ConfigError indicates an invalid model configuration,
// such as an unknown decoder variant.
type ConfigError struct {
	Field string
	Value string
}

// Error returns a description of the bad setting.
func (c *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %q", c.Field, c.Value)
}

// An IndexError indicates that a token index fell outside
// of a vocabulary.
type IndexError struct {
	Index int
	Limit int
}

// Error returns a description of the bad index.
func (i *IndexError) Error() string {
	return fmt.Sprintf("token index %d out of range [0, %d)", i.Index, i.Limit)
}
