package caprnn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const testPrec = 1e-8

func testCreator() anyvec.Creator {
	return anyvec64.DefaultCreator{}
}

func randomVector(c anyvec.Creator, size int) anyvec.Vector {
	res := c.MakeVector(size)
	anyvec.Rand(res, anyvec.Normal, nil)
	return res
}

func randomVar(c anyvec.Creator, size int) *anydiff.Var {
	return anydiff.NewVar(randomVector(c, size))
}

func randomSlice(size int) []float64 {
	res := make([]float64, size)
	for i := range res {
		res[i] = rand.NormFloat64()
	}
	return res
}

// dense views a packed vector as a gonum matrix.
func dense(v anyvec.Vector, rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, append([]float64{}, anycap.Float64s(v)...))
}

// relError computes |a-b| / max(|a|, |b|) in the L2 norm.
func relError(a, b []float64) float64 {
	scale := math.Max(floats.Norm(a, 2), floats.Norm(b, 2))
	if scale == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / scale
}

func assertClose(t *testing.T, name string, actual anyvec.Vector, expected []float64) {
	t.Helper()
	a := anycap.Float64s(actual)
	if len(a) != len(expected) {
		t.Errorf("%s: expected length %d but got %d", name, len(expected), len(a))
		return
	}
	if !floats.EqualApprox(a, expected, testPrec) {
		t.Errorf("%s: expected %v but got %v", name, expected, a)
	}
}

func assertInRange(t *testing.T, name string, v anyvec.Vector, min, max float64) {
	t.Helper()
	for i, x := range anycap.Float64s(v) {
		if x <= min || x >= max {
			t.Errorf("%s: entry %d is %f, outside (%f, %f)", name, i, x, min, max)
		}
	}
}

func assertShapePanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if _, ok := r.(*anycap.ShapeError); !ok {
			t.Errorf("expected *ShapeError panic but got %v", r)
		}
	}()
	f()
}
