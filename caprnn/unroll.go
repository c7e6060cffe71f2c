package caprnn

import (
	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A StepFunc advances a batch of recurrent states by one
// timestep.
//
// It receives a packed input batch and a packed state
// batch for n sequences and returns the packed outputs
// and the packed new states.
type StepFunc func(in, state anydiff.Res, n int) (out, newState anydiff.Res)

// Unroll applies f to every timestep of a packed,
// time-major input sequence, starting from the state
// start.
// The result packs the outputs of every timestep in
// order.
//
// Each timestep sees its input and state through fresh
// variables, so back-propagation walks the timesteps in
// reverse and visits each one exactly once.
func Unroll(in, start anydiff.Res, steps, n int, f StepFunc) anydiff.Res {
	if steps <= 0 {
		panic(&anycap.ShapeError{Op: "unroll", What: "sequence", Expected: 1,
			Actual: steps, Multiple: true})
	}
	inputs := splitSteps(in.Output(), steps)
	anycap.CheckLen("unroll", "input", in.Output(), steps*inputs[0].Len())

	res := &unrollRes{In: in, Start: start, V: anydiff.MergeVarSets(in.Vars(), start.Vars())}
	var outs []anyvec.Vector
	state := start.Output()
	for _, x := range inputs {
		step := &unrollStep{
			InPool:    anydiff.NewVar(x),
			StatePool: anydiff.NewVar(state),
		}
		step.Out, step.State = f(step.InPool, step.StatePool, n)
		res.V = anydiff.MergeVarSets(res.V, step.Out.Vars(), step.State.Vars())
		res.Steps = append(res.Steps, step)
		outs = append(outs, step.Out.Output())
		state = step.State.Output()
	}
	for _, step := range res.Steps {
		res.V.Del(step.InPool)
		res.V.Del(step.StatePool)
	}
	res.Out = in.Output().Creator().Concat(outs...)
	return res
}

type unrollStep struct {
	InPool    *anydiff.Var
	StatePool *anydiff.Var
	Out       anydiff.Res
	State     anydiff.Res
}

type unrollRes struct {
	In    anydiff.Res
	Start anydiff.Res
	Steps []*unrollStep
	Out   anyvec.Vector
	V     anydiff.VarSet
}

func (u *unrollRes) Output() anyvec.Vector {
	return u.Out
}

func (u *unrollRes) Vars() anydiff.VarSet {
	return u.V
}

func (u *unrollRes) Propagate(up anyvec.Vector, g anydiff.Grad) {
	c := up.Creator()
	outSize := up.Len() / len(u.Steps)

	var downstream []anyvec.Vector
	if g.Intersects(u.In.Vars()) {
		downstream = make([]anyvec.Vector, len(u.Steps))
	}

	var upState anyvec.Vector
	for t := len(u.Steps) - 1; t >= 0; t-- {
		step := u.Steps[t]
		g[step.InPool] = c.MakeVector(step.InPool.Vector.Len())
		g[step.StatePool] = c.MakeVector(step.StatePool.Vector.Len())
		step.Out.Propagate(up.Slice(t*outSize, (t+1)*outSize), g)
		if upState != nil {
			step.State.Propagate(upState, g)
		}
		if downstream != nil {
			downstream[t] = g[step.InPool]
		}
		upState = g[step.StatePool]
		delete(g, step.InPool)
		delete(g, step.StatePool)
	}

	if g.Intersects(u.Start.Vars()) {
		u.Start.Propagate(upState, g)
	}
	if downstream != nil {
		u.In.Propagate(c.Concat(downstream...), g)
	}
}
