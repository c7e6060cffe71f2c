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
	var v Vanilla
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVanilla)
}

// Vanilla is a tanh RNN whose gradients are computed by
// hand rather than through anydiff.
//
// For an input batch x and a hidden state batch h, one
// timestep computes
//
//     next_h = tanh(x*Wx + h*Wh + b)
//
// where Wx is InCount-by-HiddenCount, Wh is
// HiddenCount-by-HiddenCount, and both are row-major.
type Vanilla struct {
	InCount     int
	HiddenCount int

	InputWeights *anydiff.Var
	StateWeights *anydiff.Var
	Biases       *anydiff.Var
}

// DeserializeVanilla deserializes a Vanilla.
func DeserializeVanilla(d []byte) (*Vanilla, error) {
	var inW, stW, b *anyvecsave.S
	if err := serializer.DeserializeAny(d, &inW, &stW, &b); err != nil {
		return nil, essentials.AddCtx("deserialize Vanilla", err)
	}
	hidden := b.Vector.Len()
	if hidden == 0 || stW.Vector.Len() != hidden*hidden {
		return nil, errors.New("deserialize Vanilla: incorrect state matrix size")
	}
	if inW.Vector.Len()%hidden != 0 {
		return nil, errors.New("deserialize Vanilla: incorrect input matrix size")
	}
	return &Vanilla{
		InCount:      inW.Vector.Len() / hidden,
		HiddenCount:  hidden,
		InputWeights: anydiff.NewVar(inW.Vector),
		StateWeights: anydiff.NewVar(stW.Vector),
		Biases:       anydiff.NewVar(b.Vector),
	}, nil
}

// NewVanilla creates a randomized Vanilla.
// Weights are scaled by the inverse square root of their
// fan-in, and biases start at zero.
func NewVanilla(c anyvec.Creator, in, hidden int) *Vanilla {
	res := NewVanillaZero(c, in, hidden)
	anyvec.Rand(res.InputWeights.Vector, anyvec.Normal, nil)
	anyvec.Rand(res.StateWeights.Vector, anyvec.Normal, nil)
	res.InputWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	res.StateWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(hidden))))
	return res
}

// NewVanillaZero creates a zero'd Vanilla.
func NewVanillaZero(c anyvec.Creator, in, hidden int) *Vanilla {
	return &Vanilla{
		InCount:      in,
		HiddenCount:  hidden,
		InputWeights: anydiff.NewVar(c.MakeVector(in * hidden)),
		StateWeights: anydiff.NewVar(c.MakeVector(hidden * hidden)),
		Biases:       anydiff.NewVar(c.MakeVector(hidden)),
	}
}

// A VanillaCache stores the values from one forward
// timestep that the backward pass needs.
type VanillaCache struct {
	Input        anyvec.Vector
	InputWeights anyvec.Vector
	StateWeights anyvec.Vector
	PrevState    anyvec.Vector
	NextState    anyvec.Vector
}

// A VanillaStepGrad holds the gradients from one
// backward timestep.
type VanillaStepGrad struct {
	Input        anyvec.Vector
	PrevState    anyvec.Vector
	InputWeights anyvec.Vector
	StateWeights anyvec.Vector
	Biases       anyvec.Vector
}

// StepForward runs a single timestep on a batch of
// inputs x and hidden states prevH.
func (v *Vanilla) StepForward(x, prevH anyvec.Vector) (anyvec.Vector, *VanillaCache) {
	cache := &VanillaCache{}
	return v.stepForward(x, prevH, cache), cache
}

// StepBackward back-propagates the upstream gradient
// dNext through the timestep recorded in cache.
//
// With next_h = tanh(z), the derivative 1 - tanh(z)^2 is
// taken from the cached next_h.
func (v *Vanilla) StepBackward(dNext anyvec.Vector, cache *VanillaCache) *VanillaStepGrad {
	n := anycap.BatchSize("vanilla step backward", "cached state", cache.NextState,
		v.HiddenCount)
	anycap.CheckLen("vanilla step backward", "upstream", dNext, cache.NextState.Len())

	c := dNext.Creator()
	one, zero := c.MakeNumeric(1), c.MakeNumeric(0)

	dPre := cache.NextState.Copy()
	dPre.Mul(cache.NextState)
	dPre.Scale(c.MakeNumeric(-1))
	dPre.AddScalar(one)
	dPre.Mul(dNext)
	dPreMat := matrix(dPre, n, v.HiddenCount)

	res := &VanillaStepGrad{
		Input:        c.MakeVector(n * v.InCount),
		PrevState:    c.MakeVector(n * v.HiddenCount),
		InputWeights: c.MakeVector(v.InCount * v.HiddenCount),
		StateWeights: c.MakeVector(v.HiddenCount * v.HiddenCount),
		Biases:       anyvec.SumRows(dPre, v.HiddenCount),
	}

	prev := matrix(cache.PrevState, n, v.HiddenCount)
	stateW := matrix(cache.StateWeights, v.HiddenCount, v.HiddenCount)
	matrix(res.StateWeights, v.HiddenCount, v.HiddenCount).Product(true, false, one,
		prev, dPreMat, zero)
	matrix(res.PrevState, n, v.HiddenCount).Product(false, true, one, dPreMat,
		stateW, zero)

	in := matrix(cache.Input, n, v.InCount)
	inW := matrix(cache.InputWeights, v.InCount, v.HiddenCount)
	matrix(res.InputWeights, v.InCount, v.HiddenCount).Product(true, false, one, in,
		dPreMat, zero)
	matrix(res.Input, n, v.InCount).Product(false, true, one, dPreMat, inW, zero)

	return res
}

// A VanillaTape records one VanillaCache per timestep of
// a forward pass.
// All of the slots are allocated up front and released
// together once the backward pass is done.
type VanillaTape struct {
	Caches []VanillaCache
}

// Len returns the number of recorded timesteps.
func (v *VanillaTape) Len() int {
	return len(v.Caches)
}

// Release drops every cached value.
func (v *VanillaTape) Release() {
	v.Caches = nil
}

// VanillaGrad stores the gradients of a full sequence.
type VanillaGrad struct {
	// Inputs contains one input gradient per timestep.
	Inputs []anyvec.Vector

	// Start is the gradient of the initial hidden state.
	Start anyvec.Vector

	InputWeights anyvec.Vector
	StateWeights anyvec.Vector
	Biases       anyvec.Vector
}

// Forward runs the RNN over a sequence of input batches,
// starting from the hidden state batch h0.
// It returns the hidden state batch after every timestep
// and the tape needed by Backward.
func (v *Vanilla) Forward(xs []anyvec.Vector, h0 anyvec.Vector) ([]anyvec.Vector, *VanillaTape) {
	if len(xs) == 0 {
		panic(&anycap.ShapeError{Op: "vanilla forward", What: "sequence", Expected: 1,
			Actual: 0, Multiple: true})
	}
	tape := &VanillaTape{Caches: make([]VanillaCache, len(xs))}
	hs := make([]anyvec.Vector, len(xs))
	h := h0
	for t, x := range xs {
		h = v.stepForward(x, h, &tape.Caches[t])
		hs[t] = h
	}
	return hs, tape
}

// Backward back-propagates through a sequence.
//
// The dhs argument holds, for every timestep, the
// gradient that later computations contribute directly
// to that timestep's hidden state.
// Timesteps are processed from last to first, adding the
// gradient carried back from each timestep into the
// upstream of the one before it.
//
// The tape is released once Backward returns.
func (v *Vanilla) Backward(dhs []anyvec.Vector, tape *VanillaTape) *VanillaGrad {
	res := v.backward(dhs, tape)
	tape.Release()
	return res
}

func (v *Vanilla) backward(dhs []anyvec.Vector, tape *VanillaTape) *VanillaGrad {
	if len(dhs) != tape.Len() || len(dhs) == 0 {
		panic(&anycap.ShapeError{Op: "vanilla backward", What: "upstream sequence",
			Expected: tape.Len(), Actual: len(dhs)})
	}
	c := dhs[0].Creator()
	res := &VanillaGrad{
		Inputs:       make([]anyvec.Vector, len(dhs)),
		InputWeights: c.MakeVector(v.InCount * v.HiddenCount),
		StateWeights: c.MakeVector(v.HiddenCount * v.HiddenCount),
		Biases:       c.MakeVector(v.HiddenCount),
	}
	var carried anyvec.Vector
	for t := len(dhs) - 1; t >= 0; t-- {
		upstream := dhs[t].Copy()
		if carried != nil {
			upstream.Add(carried)
		}
		step := v.StepBackward(upstream, &tape.Caches[t])
		res.Inputs[t] = step.Input
		res.InputWeights.Add(step.InputWeights)
		res.StateWeights.Add(step.StateWeights)
		res.Biases.Add(step.Biases)
		carried = step.PrevState
	}
	res.Start = carried
	return res
}

// Apply runs the RNN on a packed, time-major input
// sequence with steps timesteps and batch size n.
// The result packs the hidden states of every timestep
// in the same order.
//
// Back-propagation through the result uses the
// hand-derived gradients of Backward.
func (v *Vanilla) Apply(in, start anydiff.Res, steps, n int) anydiff.Res {
	anycap.CheckLen("vanilla apply", "input", in.Output(), steps*n*v.InCount)
	anycap.CheckLen("vanilla apply", "start state", start.Output(), n*v.HiddenCount)
	hs, tape := v.Forward(splitSteps(in.Output(), steps), start.Output())
	params := anydiff.VarSet{}
	for _, p := range v.Parameters() {
		params.Add(p)
	}
	return &vanillaRes{
		Block: v,
		In:    in,
		Start: start,
		Steps: steps,
		Tape:  tape,
		Out:   in.Output().Creator().Concat(hs...),
		V:     anydiff.MergeVarSets(in.Vars(), start.Vars(), params),
	}
}

// Parameters returns the input weights, state weights,
// and biases, in that order.
func (v *Vanilla) Parameters() []*anydiff.Var {
	return []*anydiff.Var{v.InputWeights, v.StateWeights, v.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Vanilla with the serializer package.
func (v *Vanilla) SerializerType() string {
	return "github.com/unixpickle/anycap/caprnn.Vanilla"
}

// Serialize serializes the Vanilla.
func (v *Vanilla) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: v.InputWeights.Vector},
		&anyvecsave.S{Vector: v.StateWeights.Vector},
		&anyvecsave.S{Vector: v.Biases.Vector},
	)
}

func (v *Vanilla) stepForward(x, prevH anyvec.Vector, cache *VanillaCache) anyvec.Vector {
	n := anycap.BatchSize("vanilla step", "input", x, v.InCount)
	anycap.CheckLen("vanilla step", "hidden state", prevH, n*v.HiddenCount)

	c := x.Creator()
	one, zero := c.MakeNumeric(1), c.MakeNumeric(0)
	next := c.MakeVector(n * v.HiddenCount)
	nextMat := matrix(next, n, v.HiddenCount)
	nextMat.Product(false, false, one, matrix(x, n, v.InCount),
		matrix(v.InputWeights.Vector, v.InCount, v.HiddenCount), zero)
	nextMat.Product(false, false, one, matrix(prevH, n, v.HiddenCount),
		matrix(v.StateWeights.Vector, v.HiddenCount, v.HiddenCount), one)
	anyvec.AddRepeated(next, v.Biases.Vector)
	anyvec.Tanh(next)

	*cache = VanillaCache{
		Input:        x,
		InputWeights: v.InputWeights.Vector,
		StateWeights: v.StateWeights.Vector,
		PrevState:    prevH,
		NextState:    next,
	}
	return next
}

type vanillaRes struct {
	Block *Vanilla
	In    anydiff.Res
	Start anydiff.Res
	Steps int
	Tape  *VanillaTape
	Out   anyvec.Vector
	V     anydiff.VarSet
}

func (v *vanillaRes) Output() anyvec.Vector {
	return v.Out
}

func (v *vanillaRes) Vars() anydiff.VarSet {
	return v.V
}

func (v *vanillaRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	grad := v.Block.backward(splitSteps(u, v.Steps), v.Tape)
	paramGrads := []anyvec.Vector{grad.InputWeights, grad.StateWeights, grad.Biases}
	for i, param := range v.Block.Parameters() {
		if dest, ok := g[param]; ok {
			dest.Add(paramGrads[i])
		}
	}
	if g.Intersects(v.Start.Vars()) {
		v.Start.Propagate(grad.Start, g)
	}
	if g.Intersects(v.In.Vars()) {
		v.In.Propagate(u.Creator().Concat(grad.Inputs...), g)
	}
}
