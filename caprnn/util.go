package caprnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func matrix(v anyvec.Vector, rows, cols int) *anyvec.Matrix {
	return &anyvec.Matrix{Data: v, Rows: rows, Cols: cols}
}

// splitSteps splits a packed, time-major sequence into
// one vector per timestep.
func splitSteps(v anyvec.Vector, steps int) []anyvec.Vector {
	size := v.Len() / steps
	res := make([]anyvec.Vector, steps)
	for t := range res {
		res[t] = v.Slice(t*size, (t+1)*size)
	}
	return res
}

// product multiplies a packed rows-by-inCount batch by an
// inCount-by-outCount row-major weight matrix.
func product(in anydiff.Res, weights anydiff.Res, rows, inCount, outCount int) anydiff.Res {
	inMat := &anydiff.Matrix{Data: in, Rows: rows, Cols: inCount}
	weightMat := &anydiff.Matrix{Data: weights, Rows: inCount, Cols: outCount}
	return anydiff.MatMul(false, false, inMat, weightMat).Data
}

// splitState splits a packed (hidden, cell) state batch.
func splitState(state anydiff.Res, n, hidden int) (h, c anydiff.Res) {
	return anydiff.Slice(state, 0, n*hidden), anydiff.Slice(state, n*hidden, 2*n*hidden)
}
