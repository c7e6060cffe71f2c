// Package anycap provides the shared pieces of recurrent
// image-captioning models: vocabularies, word embeddings,
// a masked temporal cross-entropy cost, and the error
// types used across the sub-packages.
//
// The recurrent cores themselves live in the caprnn
// sub-package, and complete captioning models live in
// capmodel.
package anycap

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Float64s converts the contents of a vector to a slice
// of float64 values.
//
// Only float32 and float64 vectors are supported.
func Float64s(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}

// MakeVector creates a vector with the given contents.
func MakeVector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}

// Ones creates a vector of size ones.
func Ones(c anyvec.Creator, size int) anyvec.Vector {
	res := c.MakeVector(size)
	res.AddScalar(c.MakeNumeric(1))
	return res
}
