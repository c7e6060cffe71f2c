package anycap

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/floats"
)

func TestEmbeddingLookup(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 5, 3)
	res, err := e.Embed([]int{4, 0, 4})
	if err != nil {
		t.Fatal(err)
	}
	weights := Float64s(e.Weights.Vector)
	var expected []float64
	for _, tok := range []int{4, 0, 4} {
		expected = append(expected, weights[tok*3:(tok+1)*3]...)
	}
	if actual := Float64s(res.Output()); !floats.EqualApprox(actual, expected, 1e-12) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
}

func TestEmbeddingErrors(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 5, 3)
	for _, tok := range []int{-1, 5} {
		_, err := e.Embed([]int{0, tok})
		if idxErr, ok := err.(*IndexError); !ok || idxErr.Index != tok {
			t.Errorf("token %d: unexpected error %v", tok, err)
		}
	}
	if _, err := e.Embed(nil); err == nil {
		t.Error("expected error for empty token list")
	}
}

func TestEmbeddingProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	e := NewEmbedding(c, 4, 2)
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			res, err := e.Embed([]int{1, 3, 1})
			essentials.Must(err)
			return res
		},
		V: e.Parameters(),
	}
	checker.FullCheck(t)
}
