package caprnn

import (
	"errors"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a AttentionLSTM
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttentionLSTM)
}

// AttentionLSTM is an LSTM whose gates also see an
// attention context computed from a static feature grid.
//
// The pre-activation becomes
//
//     a = x*Wx + h*Wh + attn*Wattn + b
//
// with the same gate split as LSTM.
type AttentionLSTM struct {
	InCount     int
	HiddenCount int

	InputWeights     *anydiff.Var
	StateWeights     *anydiff.Var
	AttentionWeights *anydiff.Var
	Biases           *anydiff.Var
}

// DeserializeAttentionLSTM deserializes an
// AttentionLSTM.
func DeserializeAttentionLSTM(d []byte) (*AttentionLSTM, error) {
	var inW, stW, attW, b *anyvecsave.S
	if err := serializer.DeserializeAny(d, &inW, &stW, &attW, &b); err != nil {
		return nil, essentials.AddCtx("deserialize AttentionLSTM", err)
	}
	hidden, in, err := gateDims(inW.Vector, stW.Vector, b.Vector)
	if err != nil {
		return nil, essentials.AddCtx("deserialize AttentionLSTM", err)
	}
	if attW.Vector.Len() != stW.Vector.Len() {
		return nil, errors.New("deserialize AttentionLSTM: incorrect attention matrix size")
	}
	return &AttentionLSTM{
		InCount:          in,
		HiddenCount:      hidden,
		InputWeights:     anydiff.NewVar(inW.Vector),
		StateWeights:     anydiff.NewVar(stW.Vector),
		AttentionWeights: anydiff.NewVar(attW.Vector),
		Biases:           anydiff.NewVar(b.Vector),
	}, nil
}

// NewAttentionLSTM creates a randomized AttentionLSTM.
func NewAttentionLSTM(c anyvec.Creator, in, hidden int) *AttentionLSTM {
	res := NewAttentionLSTMZero(c, in, hidden)
	randomizeWeights(res.InputWeights.Vector, in)
	randomizeWeights(res.StateWeights.Vector, hidden)
	randomizeWeights(res.AttentionWeights.Vector, hidden)
	return res
}

// NewAttentionLSTMZero creates a zero'd AttentionLSTM.
func NewAttentionLSTMZero(c anyvec.Creator, in, hidden int) *AttentionLSTM {
	return &AttentionLSTM{
		InCount:          in,
		HiddenCount:      hidden,
		InputWeights:     anydiff.NewVar(c.MakeVector(in * 4 * hidden)),
		StateWeights:     anydiff.NewVar(c.MakeVector(hidden * 4 * hidden)),
		AttentionWeights: anydiff.NewVar(c.MakeVector(hidden * 4 * hidden)),
		Biases:           anydiff.NewVar(c.MakeVector(4 * hidden)),
	}
}

// Gates computes the activated gates for one timestep.
func (a *AttentionLSTM) Gates(x, prevH, attn anydiff.Res, n int) *Gates {
	return splitGates(a.preact(x, prevH, attn, n), n, a.HiddenCount)
}

// Step runs a single timestep given the attention context
// attn for this timestep.
func (a *AttentionLSTM) Step(x, prevH, prevC, attn anydiff.Res, n int) (nextH,
	nextC anydiff.Res) {
	anycap.CheckLen("attention lstm step", "cell state", prevC.Output(), n*a.HiddenCount)
	state := lstmUpdate(a.preact(x, prevH, attn, n), prevC, n, a.HiddenCount)
	return splitState(state, n, a.HiddenCount)
}

// Start computes the packed (h0, c0) state for a batch
// of n feature grids.
// Both halves are the mean of the grid over its
// locations.
func (a *AttentionLSTM) Start(grid anydiff.Res, n int) anydiff.Res {
	return anydiff.Pool(MeanLocations(grid, n, a.HiddenCount), func(m anydiff.Res) anydiff.Res {
		return anydiff.Concat(m, m)
	})
}

// Apply runs the block on a packed, time-major input
// sequence with steps timesteps and batch size n.
//
// The grid packs n feature grids of depth HiddenCount, as
// described in DotProductAttention.
// The grid never changes, but attention is recomputed
// from the current hidden state at every timestep.
func (a *AttentionLSTM) Apply(in, grid anydiff.Res, steps, n int) anydiff.Res {
	return anydiff.Pool(grid, func(grid anydiff.Res) anydiff.Res {
		return Unroll(in, a.Start(grid, n), steps, n, func(in, state anydiff.Res,
			n int) (out, newState anydiff.Res) {
			h, c := splitState(state, n, a.HiddenCount)
			attn, _ := DotProductAttention(h, grid, n)
			newState = lstmUpdate(a.preact(in, h, attn, n), c, n, a.HiddenCount)
			return anydiff.Slice(newState, 0, n*a.HiddenCount), newState
		})
	})
}

// Parameters returns the input, state, and attention
// weights followed by the biases.
func (a *AttentionLSTM) Parameters() []*anydiff.Var {
	return []*anydiff.Var{a.InputWeights, a.StateWeights, a.AttentionWeights, a.Biases}
}

// SerializerType returns the unique ID used to serialize
// an AttentionLSTM with the serializer package.
func (a *AttentionLSTM) SerializerType() string {
	return "github.com/unixpickle/anycap/caprnn.AttentionLSTM"
}

// Serialize serializes the AttentionLSTM.
func (a *AttentionLSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: a.InputWeights.Vector},
		&anyvecsave.S{Vector: a.StateWeights.Vector},
		&anyvecsave.S{Vector: a.AttentionWeights.Vector},
		&anyvecsave.S{Vector: a.Biases.Vector},
	)
}

func (a *AttentionLSTM) preact(x, prevH, attn anydiff.Res, n int) anydiff.Res {
	anycap.CheckLen("attention lstm step", "input", x.Output(), n*a.InCount)
	anycap.CheckLen("attention lstm step", "hidden state", prevH.Output(), n*a.HiddenCount)
	anycap.CheckLen("attention lstm step", "context", attn.Output(), n*a.HiddenCount)
	gates := 4 * a.HiddenCount
	sum := anydiff.Add(
		anydiff.Add(
			product(x, a.InputWeights, n, a.InCount, gates),
			product(prevH, a.StateWeights, n, a.HiddenCount, gates),
		),
		product(attn, a.AttentionWeights, n, a.HiddenCount, gates),
	)
	return anydiff.AddRepeated(sum, a.Biases)
}
