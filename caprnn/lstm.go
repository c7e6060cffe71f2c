package caprnn

import (
	"errors"
	"math"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var l LSTM
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTM)
}

// LSTM is a long short-term memory block.
//
// The four gates share a single pre-activation
//
//     a = x*Wx + h*Wh + b
//
// which is split into four HiddenCount-wide chunks: the
// input gate, the forget gate, the output gate, and the
// candidate value, in that order.
//
// Gradients are left to anydiff.
type LSTM struct {
	InCount     int
	HiddenCount int

	// InputWeights is InCount-by-4*HiddenCount.
	InputWeights *anydiff.Var

	// StateWeights is HiddenCount-by-4*HiddenCount.
	StateWeights *anydiff.Var

	Biases *anydiff.Var
}

// DeserializeLSTM deserializes an LSTM.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	var inW, stW, b *anyvecsave.S
	if err := serializer.DeserializeAny(d, &inW, &stW, &b); err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	hidden, in, err := gateDims(inW.Vector, stW.Vector, b.Vector)
	if err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	return &LSTM{
		InCount:      in,
		HiddenCount:  hidden,
		InputWeights: anydiff.NewVar(inW.Vector),
		StateWeights: anydiff.NewVar(stW.Vector),
		Biases:       anydiff.NewVar(b.Vector),
	}, nil
}

// NewLSTM creates a randomized LSTM.
func NewLSTM(c anyvec.Creator, in, hidden int) *LSTM {
	res := NewLSTMZero(c, in, hidden)
	randomizeWeights(res.InputWeights.Vector, in)
	randomizeWeights(res.StateWeights.Vector, hidden)
	return res
}

// NewLSTMZero creates a zero'd LSTM.
func NewLSTMZero(c anyvec.Creator, in, hidden int) *LSTM {
	return &LSTM{
		InCount:      in,
		HiddenCount:  hidden,
		InputWeights: anydiff.NewVar(c.MakeVector(in * 4 * hidden)),
		StateWeights: anydiff.NewVar(c.MakeVector(hidden * 4 * hidden)),
		Biases:       anydiff.NewVar(c.MakeVector(4 * hidden)),
	}
}

// Gates computes the activated gates for one timestep.
func (l *LSTM) Gates(x, prevH anydiff.Res, n int) *Gates {
	return splitGates(l.preact(x, prevH, n), n, l.HiddenCount)
}

// Step runs a single timestep.
func (l *LSTM) Step(x, prevH, prevC anydiff.Res, n int) (nextH, nextC anydiff.Res) {
	anycap.CheckLen("lstm step", "cell state", prevC.Output(), n*l.HiddenCount)
	state := lstmUpdate(l.preact(x, prevH, n), prevC, n, l.HiddenCount)
	return splitState(state, n, l.HiddenCount)
}

// Apply runs the LSTM on a packed, time-major input
// sequence with steps timesteps and batch size n.
//
// The hidden state starts at h0 and the cell state starts
// at zero.
// The result packs the hidden states of every timestep;
// cell states are internal.
func (l *LSTM) Apply(in, h0 anydiff.Res, steps, n int) anydiff.Res {
	anycap.CheckLen("lstm apply", "initial state", h0.Output(), n*l.HiddenCount)
	c0 := anydiff.NewConst(h0.Output().Creator().MakeVector(n * l.HiddenCount))
	start := anydiff.Concat(h0, c0)
	return Unroll(in, start, steps, n, func(in, state anydiff.Res, n int) (out,
		newState anydiff.Res) {
		h, c := splitState(state, n, l.HiddenCount)
		newState = lstmUpdate(l.preact(in, h, n), c, n, l.HiddenCount)
		return anydiff.Slice(newState, 0, n*l.HiddenCount), newState
	})
}

// Parameters returns the input weights, state weights,
// and biases, in that order.
func (l *LSTM) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.InputWeights, l.StateWeights, l.Biases}
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/unixpickle/anycap/caprnn.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: l.InputWeights.Vector},
		&anyvecsave.S{Vector: l.StateWeights.Vector},
		&anyvecsave.S{Vector: l.Biases.Vector},
	)
}

func (l *LSTM) preact(x, prevH anydiff.Res, n int) anydiff.Res {
	anycap.CheckLen("lstm step", "input", x.Output(), n*l.InCount)
	anycap.CheckLen("lstm step", "hidden state", prevH.Output(), n*l.HiddenCount)
	gates := 4 * l.HiddenCount
	sum := anydiff.Add(
		product(x, l.InputWeights, n, l.InCount, gates),
		product(prevH, l.StateWeights, n, l.HiddenCount, gates),
	)
	return anydiff.AddRepeated(sum, l.Biases)
}

// Gates stores the activated gates of an LSTM timestep.
// Each gate is a packed batch of HiddenCount-wide rows.
type Gates struct {
	Input     anydiff.Res
	Forget    anydiff.Res
	Output    anydiff.Res
	Candidate anydiff.Res
}

// splitGates splits a packed n-by-4*hidden
// pre-activation into its four gates.
//
// Transposing makes every gate a contiguous block of
// rows.
func splitGates(preact anydiff.Res, n, hidden int) *Gates {
	rows := anydiff.Transpose(&anydiff.Matrix{Data: preact, Rows: n, Cols: 4 * hidden}).Data
	chunk := func(i int) anydiff.Res {
		part := anydiff.Slice(rows, i*hidden*n, (i+1)*hidden*n)
		return anydiff.Transpose(&anydiff.Matrix{Data: part, Rows: hidden, Cols: n}).Data
	}
	return &Gates{
		Input:     anydiff.Sigmoid(chunk(0)),
		Forget:    anydiff.Sigmoid(chunk(1)),
		Output:    anydiff.Sigmoid(chunk(2)),
		Candidate: anydiff.Tanh(chunk(3)),
	}
}

// lstmUpdate applies the gates to the previous cell
// state, giving the packed (next_h, next_c) state.
func lstmUpdate(preact, prevC anydiff.Res, n, hidden int) anydiff.Res {
	return anydiff.Pool(preact, func(preact anydiff.Res) anydiff.Res {
		g := splitGates(preact, n, hidden)
		nextC := anydiff.Add(anydiff.Mul(g.Forget, prevC), anydiff.Mul(g.Input, g.Candidate))
		return anydiff.Pool(nextC, func(nextC anydiff.Res) anydiff.Res {
			nextH := anydiff.Mul(g.Output, anydiff.Tanh(nextC))
			return anydiff.Concat(nextH, nextC)
		})
	})
}

func randomizeWeights(v anyvec.Vector, fanIn int) {
	anyvec.Rand(v, anyvec.Normal, nil)
	v.Scale(v.Creator().MakeNumeric(1 / math.Sqrt(float64(fanIn))))
}

// gateDims infers the hidden and input sizes of a gated
// block from its parameter vectors.
func gateDims(inW, stW, biases anyvec.Vector) (hidden, in int, err error) {
	if biases.Len() == 0 || biases.Len()%4 != 0 {
		return 0, 0, errors.New("bias count must be a positive multiple of 4")
	}
	hidden = biases.Len() / 4
	if stW.Len() != hidden*4*hidden {
		return 0, 0, errors.New("incorrect state matrix size")
	}
	if inW.Len()%(4*hidden) != 0 {
		return 0, 0, errors.New("incorrect input matrix size")
	}
	return hidden, inW.Len() / (4 * hidden), nil
}
