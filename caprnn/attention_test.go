package caprnn

import (
	"math"
	"testing"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/floats"
)

func TestAttentionWeightsSum(t *testing.T) {
	const (
		n      = 3
		hidden = 5
	)
	c := testCreator()
	prevH := randomVector(c, n*hidden)
	prevH.Scale(c.MakeNumeric(4))
	grid := randomVector(c, n*GridLocations*hidden)
	ctx, weights := DotProductAttention(anydiff.NewConst(prevH), anydiff.NewConst(grid), n)
	if ctx.Output().Len() != n*hidden {
		t.Errorf("expected context length %d but got %d", n*hidden, ctx.Output().Len())
	}
	w := anycap.Float64s(weights.Output())
	if len(w) != n*GridLocations {
		t.Fatalf("expected %d weights but got %d", n*GridLocations, len(w))
	}
	for i := 0; i < n; i++ {
		sum := floats.Sum(w[i*GridLocations : (i+1)*GridLocations])
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("sequence %d: weights sum to %f", i, sum)
		}
	}
}

func TestAttentionOutput(t *testing.T) {
	const (
		n      = 2
		hidden = 3
	)
	c := testCreator()
	prevH := randomVector(c, n*hidden)
	grid := randomVector(c, n*GridLocations*hidden)
	ctx, weights := DotProductAttention(anydiff.NewConst(prevH), anydiff.NewConst(grid), n)

	hData := anycap.Float64s(prevH)
	gData := anycap.Float64s(grid)
	var expCtx, expWeights []float64
	for i := 0; i < n; i++ {
		h := hData[i*hidden : (i+1)*hidden]
		scores := make([]float64, GridLocations)
		for l := range scores {
			row := gData[(i*GridLocations+l)*hidden : (i*GridLocations+l+1)*hidden]
			scores[l] = math.Exp(floats.Dot(h, row) / math.Sqrt(hidden))
		}
		floats.Scale(1/floats.Sum(scores), scores)
		expWeights = append(expWeights, scores...)

		sum := make([]float64, hidden)
		for l, w := range scores {
			row := gData[(i*GridLocations+l)*hidden : (i*GridLocations+l+1)*hidden]
			floats.AddScaled(sum, w, row)
		}
		expCtx = append(expCtx, sum...)
	}
	assertClose(t, "weights", weights.Output(), expWeights)
	assertClose(t, "context", ctx.Output(), expCtx)
}

func TestAttentionProp(t *testing.T) {
	c := testCreator()
	prevH := randomVar(c, 2*3)
	grid := randomVar(c, 2*GridLocations*3)
	for _, useWeights := range []bool{false, true} {
		checker := &anydifftest.ResChecker{
			F: func() anydiff.Res {
				ctx, weights := DotProductAttention(prevH, grid, 2)
				if useWeights {
					return weights
				}
				return ctx
			},
			V: []*anydiff.Var{prevH, grid},
		}
		checker.FullCheck(t)
	}
}

func TestMeanLocations(t *testing.T) {
	const (
		n     = 2
		depth = 3
	)
	c := testCreator()
	grid := randomVector(c, n*GridLocations*depth)
	actual := MeanLocations(anydiff.NewConst(grid), n, depth).Output()

	gData := anycap.Float64s(grid)
	expected := make([]float64, n*depth)
	for i := 0; i < n; i++ {
		for l := 0; l < GridLocations; l++ {
			row := gData[(i*GridLocations+l)*depth : (i*GridLocations+l+1)*depth]
			floats.AddScaled(expected[i*depth:(i+1)*depth], 1.0/GridLocations, row)
		}
	}
	assertClose(t, "mean", actual, expected)
}

func TestAttentionShapeErrors(t *testing.T) {
	c := testCreator()
	assertShapePanic(t, func() {
		DotProductAttention(anydiff.NewConst(c.MakeVector(6)),
			anydiff.NewConst(c.MakeVector(2*GridLocations*2)), 2)
	})
	assertShapePanic(t, func() {
		MeanLocations(anydiff.NewConst(c.MakeVector(10)), 1, 1)
	})
}

func randomGrid(c anyvec.Creator, n, depth int) *anydiff.Var {
	return randomVar(c, n*GridLocations*depth)
}
