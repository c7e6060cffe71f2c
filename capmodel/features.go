package capmodel

import (
	"errors"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An Encoder turns a batch of images into features.
//
// Encoders are expected to be deterministic and frozen
// while a Model is being sampled.
type Encoder interface {
	Encode(images anyvec.Vector, n int) (*Features, error)
}

// Features stores a batch of spatial image features.
//
// Grid packs N grids of caprnn.GridLocations rows, where
// each row is a Depth-wide feature vector for one
// location.
type Features struct {
	Grid  anyvec.Vector
	N     int
	Depth int
}

// NewFeatures wraps a packed feature grid.
func NewFeatures(grid anyvec.Vector, n, depth int) (*Features, error) {
	if n <= 0 || depth <= 0 {
		return nil, errors.New("new features: batch size and depth must be positive")
	}
	if grid.Len() != n*caprnn.GridLocations*depth {
		return nil, &anycap.ShapeError{
			Op:       "new features",
			What:     "feature grid",
			Expected: n * caprnn.GridLocations * depth,
			Actual:   grid.Len(),
		}
	}
	return &Features{Grid: grid, N: n, Depth: depth}, nil
}

// JoinFeatures concatenates feature batches along the
// batch axis.
func JoinFeatures(fs ...*Features) (*Features, error) {
	if len(fs) == 0 {
		return nil, errors.New("join features: nothing to join")
	}
	var grids []anyvec.Vector
	var n int
	for _, f := range fs {
		if f.Depth != fs[0].Depth {
			return nil, &anycap.ShapeError{Op: "join features", What: "feature depth",
				Expected: fs[0].Depth, Actual: f.Depth}
		}
		grids = append(grids, f.Grid)
		n += f.N
	}
	return &Features{
		Grid:  fs[0].Grid.Creator().Concat(grids...),
		N:     n,
		Depth: fs[0].Depth,
	}, nil
}

// Pooled averages every grid over its locations, giving
// a packed N-by-Depth batch.
func (f *Features) Pooled() anyvec.Vector {
	return caprnn.MeanLocations(anydiff.NewConst(f.Grid), f.N, f.Depth).Output()
}
