package caprnn

import (
	"math"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
)

// GridSide is the side length of a feature grid.
const GridSide = 4

// GridLocations is the number of spatial locations in a
// feature grid.
const GridLocations = GridSide * GridSide

// DotProductAttention attends over a batch of feature
// grids using a batch of query hidden states.
//
// The prevH argument packs n rows of width H.
// The grid argument packs n grids of GridLocations rows
// each, where every row is a depth-H feature vector.
//
// For each sequence, location l scores h.A_l/sqrt(H), and
// a softmax over the locations gives the attention
// weights.
// The context is the weighted sum of the grid rows.
//
// The context packs n rows of width H, and the weights
// pack n rows of width GridLocations, which is a row-major
// GridSide-by-GridSide map.
func DotProductAttention(prevH, grid anydiff.Res, n int) (ctx, weights anydiff.Res) {
	hidden := anycap.BatchSize("attention", "query", prevH.Output(), n)
	anycap.CheckLen("attention", "feature grid", grid.Output(), n*GridLocations*hidden)

	c := prevH.Output().Creator()
	onesLoc := anydiff.NewConst(anycap.Ones(c, GridLocations))
	onesHidden := anydiff.NewConst(anycap.Ones(c, hidden))

	// Repeat each query once per location, giving the
	// same row layout as the grid.
	queryCols := anydiff.Transpose(&anydiff.Matrix{Data: prevH, Rows: n, Cols: hidden}).Data
	tiled := anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: queryCols, Rows: hidden * n, Cols: 1},
		&anydiff.Matrix{Data: onesLoc, Rows: 1, Cols: GridLocations},
	).Data
	queries := anydiff.Transpose(&anydiff.Matrix{
		Data: tiled,
		Rows: hidden,
		Cols: n * GridLocations,
	}).Data

	scores := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(queries, grid),
		Rows: n * GridLocations,
		Cols: hidden,
	})
	scores = anydiff.Scale(scores, c.MakeNumeric(1/math.Sqrt(float64(hidden))))
	weights = anydiff.Exp(anydiff.LogSoftmax(scores, GridLocations))

	ctx = anydiff.Pool(weights, func(weights anydiff.Res) anydiff.Res {
		spread := anydiff.MatMul(false, false,
			&anydiff.Matrix{Data: weights, Rows: n * GridLocations, Cols: 1},
			&anydiff.Matrix{Data: onesHidden, Rows: 1, Cols: hidden},
		).Data
		return sumLocations(anydiff.Mul(spread, grid), n, hidden)
	})
	return ctx, weights
}

// MeanLocations averages a batch of n feature grids over
// their locations, giving n rows of width depth.
func MeanLocations(grid anydiff.Res, n, depth int) anydiff.Res {
	anycap.CheckLen("mean locations", "feature grid", grid.Output(), n*GridLocations*depth)
	scaler := grid.Output().Creator().MakeNumeric(1 / float64(GridLocations))
	return anydiff.Scale(sumLocations(grid, n, depth), scaler)
}

// sumLocations sums the rows of every grid in a batch.
func sumLocations(grid anydiff.Res, n, depth int) anydiff.Res {
	byDepth := anydiff.Transpose(&anydiff.Matrix{
		Data: grid,
		Rows: n * GridLocations,
		Cols: depth,
	}).Data
	sums := anydiff.SumCols(&anydiff.Matrix{
		Data: byDepth,
		Rows: depth * n,
		Cols: GridLocations,
	})
	return anydiff.Transpose(&anydiff.Matrix{Data: sums, Rows: depth, Cols: n}).Data
}
