package anycap

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"gonum.org/v1/gonum/floats"
)

func TestMaskedCEAllIgnored(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	scores := c.MakeVector(4 * 5)
	anyvec.Rand(scores, anyvec.Normal, nil)
	cost := MaskedCE{IgnoreIndex: 0}.Cost([]int{0, 0, 0, 0}, anydiff.NewConst(scores), 2)
	if actual := Float64s(cost.Output()); len(actual) != 1 || actual[0] != 0 {
		t.Errorf("expected [0] but got %v", actual)
	}
}

func TestMaskedCEUnmasked(t *testing.T) {
	const vocab = 4
	c := anyvec64.DefaultCreator{}
	scores := c.MakeVector(6 * vocab)
	anyvec.Rand(scores, anyvec.Normal, nil)
	targets := []int{0, 1, 3, 2, 0, 1}

	actual := Float64s(MaskedCE{IgnoreIndex: NoIgnore}.Cost(targets,
		anydiff.NewConst(scores), 3).Output())[0]

	data := Float64s(scores)
	var expected float64
	for i, target := range targets {
		row := data[i*vocab : (i+1)*vocab]
		expected -= row[target] - floats.LogSumExp(row)
	}
	expected /= 3
	if math.Abs(actual-expected) > 1e-8 {
		t.Errorf("expected %f but got %f", expected, actual)
	}
}

func TestMaskedCEPartial(t *testing.T) {
	const vocab = 3
	c := anyvec64.DefaultCreator{}
	scores := c.MakeVector(4 * vocab)
	anyvec.Rand(scores, anyvec.Normal, nil)
	masked := MaskedCE{IgnoreIndex: 0}.Cost([]int{1, 0, 2, 0}, anydiff.NewConst(scores), 2)
	kept := c.Concat(scores.Slice(0, vocab), scores.Slice(2*vocab, 3*vocab))
	plain := MaskedCE{IgnoreIndex: NoIgnore}.Cost([]int{1, 2}, anydiff.NewConst(kept), 2)
	a, b := Float64s(masked.Output())[0], Float64s(plain.Output())[0]
	if math.Abs(a-b) > 1e-8 {
		t.Errorf("expected %f but got %f", b, a)
	}
}

func TestMaskedCEGrad(t *testing.T) {
	const vocab = 3
	c := anyvec64.DefaultCreator{}
	scores := anydiff.NewVar(c.MakeVector(4 * vocab))
	anyvec.Rand(scores.Vector, anyvec.Normal, nil)
	targets := []int{1, 0, 2, 0}

	cost := MaskedCE{}.Cost(targets, scores, 2)
	grad := anydiff.NewGrad(scores)
	cost.Propagate(Ones(c, 1), grad)
	g := Float64s(grad[scores])
	for i, target := range targets {
		row := g[i*vocab : (i+1)*vocab]
		if target == 0 {
			if floats.Norm(row, 2) != 0 {
				t.Errorf("row %d: expected zero gradient but got %v", i, row)
			}
		} else if floats.Norm(row, 2) == 0 {
			t.Errorf("row %d: unexpected zero gradient", i)
		}
	}

	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return MaskedCE{}.Cost(targets, scores, 2)
		},
		V: []*anydiff.Var{scores},
	}
	checker.FullCheck(t)
}

func TestMaskedCEValidate(t *testing.T) {
	ce := MaskedCE{IgnoreIndex: 7}
	if err := ce.Validate([]int{0, 7, 2}, 3); err != nil {
		t.Errorf("unexpected error: %s", err)
	}
	err := ce.Validate([]int{0, 3}, 3)
	if idxErr, ok := err.(*IndexError); !ok || idxErr.Index != 3 || idxErr.Limit != 3 {
		t.Errorf("unexpected error: %v", err)
	}
}
