package caprnn

import (
	"testing"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/mat"
)

func TestAttentionLSTMStep(t *testing.T) {
	const (
		n      = 2
		in     = 3
		hidden = 2
	)
	c := testCreator()
	block := NewAttentionLSTM(c, in, hidden)
	anyvec.Rand(block.Biases.Vector, anyvec.Normal, nil)
	x := randomVector(c, n*in)
	h := randomVector(c, n*hidden)
	cell := randomVector(c, n*hidden)
	attn := randomVector(c, n*hidden)

	nextH, nextC := block.Step(anydiff.NewConst(x), anydiff.NewConst(h),
		anydiff.NewConst(cell), anydiff.NewConst(attn), n)

	var pre, hTerm, attnTerm mat.Dense
	pre.Mul(dense(x, n, in), dense(block.InputWeights.Vector, in, 4*hidden))
	hTerm.Mul(dense(h, n, hidden), dense(block.StateWeights.Vector, hidden, 4*hidden))
	attnTerm.Mul(dense(attn, n, hidden), dense(block.AttentionWeights.Vector, hidden,
		4*hidden))
	pre.Add(&pre, &hTerm)
	pre.Add(&pre, &attnTerm)
	expH, expC := referenceUpdate(&pre, anycap.Float64s(block.Biases.Vector),
		anycap.Float64s(cell), n, hidden)

	assertClose(t, "next_h", nextH.Output(), expH)
	assertClose(t, "next_c", nextC.Output(), expC)

	gates := block.Gates(anydiff.NewConst(x), anydiff.NewConst(h), anydiff.NewConst(attn), n)
	assertInRange(t, "forget gate", gates.Forget.Output(), 0, 1)
	assertInRange(t, "candidate", gates.Candidate.Output(), -1, 1)
}

func TestAttentionLSTMApplyMatchesSteps(t *testing.T) {
	const (
		n      = 2
		in     = 3
		hidden = 4
		steps  = 3
	)
	c := testCreator()
	block := NewAttentionLSTM(c, in, hidden)
	anyvec.Rand(block.Biases.Vector, anyvec.Normal, nil)
	seq := randomVector(c, steps*n*in)
	grid := anydiff.NewConst(randomGrid(c, n, hidden).Vector)

	actual := block.Apply(anydiff.NewConst(seq), grid, steps, n).Output()

	// Both states start at the mean feature, and attention
	// is recomputed from the latest hidden state.
	var h, cell anydiff.Res = MeanLocations(grid, n, hidden), MeanLocations(grid, n, hidden)
	var expected []float64
	for _, x := range splitSteps(seq, steps) {
		attn, _ := DotProductAttention(h, grid, n)
		h, cell = block.Step(anydiff.NewConst(x), h, cell, attn, n)
		expected = append(expected, anycap.Float64s(h.Output())...)
	}
	assertClose(t, "outputs", actual, expected)
}

func TestAttentionLSTMApplyProp(t *testing.T) {
	c := testCreator()
	block := NewAttentionLSTM(c, 2, 2)
	anyvec.Rand(block.Biases.Vector, anyvec.Normal, nil)
	in := randomVar(c, 2*2*2)
	grid := randomGrid(c, 2, 2)
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return block.Apply(in, grid, 2, 2)
		},
		V: append([]*anydiff.Var{in, grid}, block.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestAttentionLSTMSerialize(t *testing.T) {
	c := testCreator()
	block := NewAttentionLSTM(c, 3, 4)
	data, err := serializer.SerializeAny(block)
	if err != nil {
		t.Fatal(err)
	}
	var decoded *AttentionLSTM
	if err := serializer.DeserializeAny(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.InCount != 3 || decoded.HiddenCount != 4 {
		t.Errorf("bad dimensions: %d, %d", decoded.InCount, decoded.HiddenCount)
	}
	for i, p := range block.Parameters() {
		assertClose(t, "parameter", decoded.Parameters()[i].Vector,
			anycap.Float64s(p.Vector))
	}
}
