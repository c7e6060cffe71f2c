package capmodel

import (
	"fmt"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Sample is the result of greedily decoding captions
// for a batch of images.
type Sample struct {
	// Captions contains one caption per image, each with
	// exactly the requested number of slots.
	// The first slot holds the first generated word, not
	// the start token.
	// Slots after a caption's end token hold the null
	// token.
	Captions [][]int

	// Attention packs an N-by-maxLen-by-16 array of
	// attention maps, one per image per timestep.
	// Timesteps that never ran are zero.
	//
	// It is nil unless the model uses attention.
	Attention anyvec.Vector
}

// AttentionMap returns the attention weights used for an
// image at a timestep, as a row-major 4x4 grid.
func (s *Sample) AttentionMap(image, t int) []float64 {
	if s.Attention == nil {
		return nil
	}
	maxLen := len(s.Captions[image])
	idx := (image*maxLen + t) * caprnn.GridLocations
	return anycap.Float64s(s.Attention.Slice(idx, idx+caprnn.GridLocations))
}

// Sample greedily decodes captions of at most maxLen
// tokens.
//
// Decoding starts from the start token.
// At each timestep, every image's highest scoring token
// is written to its caption and fed back in as the next
// input.
// An image whose chosen token is the end token keeps that
// token and then stops, and decoding stops entirely once
// every image has stopped.
func (m *Model) Sample(f *Features, maxLen int) (*Sample, error) {
	if maxLen <= 0 {
		return nil, essentials.AddCtx("sample",
			&anycap.ConfigError{Field: "max length", Value: fmt.Sprint(maxLen)})
	}
	if err := m.checkFeatures(f); err != nil {
		return nil, essentials.AddCtx("sample", err)
	}
	dec := m.decoder(f)
	res := &Sample{}
	var attention []float64
	if m.Variant == anycap.Attention {
		attention = make([]float64, f.N*maxLen*caprnn.GridLocations)
	}
	captions, err := greedyDecode(f.N, maxLen, m.specialTokens(),
		func(t int, tokens []int) (anyvec.Vector, error) {
			scores, weights, err := dec.Step(tokens)
			if err != nil {
				return nil, err
			}
			if weights != nil {
				w := anycap.Float64s(weights)
				for i := 0; i < f.N; i++ {
					copy(attention[(i*maxLen+t)*caprnn.GridLocations:],
						w[i*caprnn.GridLocations:(i+1)*caprnn.GridLocations])
				}
			}
			return scores, nil
		})
	if err != nil {
		return nil, essentials.AddCtx("sample", err)
	}
	res.Captions = captions
	if attention != nil {
		res.Attention = anycap.MakeVector(f.Grid.Creator(), attention)
	}
	return res, nil
}

// An ActiveMap tracks which sequences in a batch are
// still being decoded.
type ActiveMap []bool

// NewActiveMap creates an ActiveMap where every sequence
// is active.
func NewActiveMap(n int) ActiveMap {
	res := make(ActiveMap, n)
	for i := range res {
		res[i] = true
	}
	return res
}

// NumActive returns the number of active sequences.
func (a ActiveMap) NumActive() int {
	var res int
	for _, x := range a {
		if x {
			res++
		}
	}
	return res
}

// Any checks if any sequence is active.
func (a ActiveMap) Any() bool {
	for _, x := range a {
		if x {
			return true
		}
	}
	return false
}

type specialTokens struct {
	Null  int
	Start int
	End   int
}

func (m *Model) specialTokens() specialTokens {
	return specialTokens{Null: m.NullToken, Start: m.StartToken, End: m.EndToken}
}

// A stepFunc scores the vocabulary for timestep t, given
// the input token of every sequence.
// The scores pack one row per sequence.
type stepFunc func(t int, tokens []int) (anyvec.Vector, error)

// greedyDecode runs the decoding state machine for n
// sequences.
func greedyDecode(n, maxLen int, special specialTokens, step stepFunc) ([][]int, error) {
	captions := make([][]int, n)
	for i := range captions {
		captions[i] = make([]int, maxLen)
		for t := range captions[i] {
			captions[i][t] = special.Null
		}
	}

	active := NewActiveMap(n)
	tokens := make([]int, n)
	for i := range tokens {
		tokens[i] = special.Start
	}

	for t := 0; t < maxLen && active.Any(); t++ {
		scores, err := step(t, tokens)
		if err != nil {
			return nil, err
		}
		vocab := anycap.BatchSize("greedy decode", "scores", scores, n)
		for i := range tokens {
			tokens[i] = anyvec.MaxIndex(scores.Slice(i*vocab, (i+1)*vocab))
			if !active[i] {
				continue
			}
			captions[i][t] = tokens[i]
			if tokens[i] == special.End {
				active[i] = false
			}
		}
	}
	return captions, nil
}

// A decoder advances a Model by one token at a time.
type decoder interface {
	// Step feeds one token per sequence and returns the
	// vocabulary scores.
	// For attention decoders, it also returns the attention
	// weights used for the step.
	Step(tokens []int) (scores, weights anyvec.Vector, err error)
}

func (m *Model) decoder(f *Features) decoder {
	init := m.initialState(f).Output()
	switch core := m.Core.(type) {
	case *caprnn.Vanilla:
		return &vanillaDecoder{Model: m, Core: core, N: f.N, Hidden: init}
	case *caprnn.LSTM:
		return &lstmDecoder{
			Model:  m,
			Core:   core,
			N:      f.N,
			Hidden: anydiff.NewConst(init),
			Cell:   anydiff.NewConst(init.Creator().MakeVector(init.Len())),
		}
	case *caprnn.AttentionLSTM:
		grid := anydiff.NewConst(init)
		mean := caprnn.MeanLocations(grid, f.N, core.HiddenCount).Output()
		return &attentionDecoder{
			Model:  m,
			Core:   core,
			N:      f.N,
			Grid:   grid,
			Hidden: anydiff.NewConst(mean),
			Cell:   anydiff.NewConst(mean.Copy()),
		}
	default:
		panic(fmt.Sprintf("unsupported core type: %T", core))
	}
}

// scores projects a hidden state batch onto the
// vocabulary.
func (m *Model) scores(hidden anyvec.Vector, n int) anyvec.Vector {
	return m.OutProj.Apply(anydiff.NewConst(hidden), n).Output()
}

func (m *Model) embedTokens(tokens []int) (anyvec.Vector, error) {
	words, err := m.Embedding.Embed(tokens)
	if err != nil {
		return nil, err
	}
	return words.Output(), nil
}

type vanillaDecoder struct {
	Model  *Model
	Core   *caprnn.Vanilla
	N      int
	Hidden anyvec.Vector
}

func (v *vanillaDecoder) Step(tokens []int) (scores, weights anyvec.Vector, err error) {
	x, err := v.Model.embedTokens(tokens)
	if err != nil {
		return nil, nil, err
	}
	v.Hidden, _ = v.Core.StepForward(x, v.Hidden)
	return v.Model.scores(v.Hidden, v.N), nil, nil
}

type lstmDecoder struct {
	Model  *Model
	Core   *caprnn.LSTM
	N      int
	Hidden anydiff.Res
	Cell   anydiff.Res
}

func (l *lstmDecoder) Step(tokens []int) (scores, weights anyvec.Vector, err error) {
	x, err := l.Model.embedTokens(tokens)
	if err != nil {
		return nil, nil, err
	}
	h, c := l.Core.Step(anydiff.NewConst(x), l.Hidden, l.Cell, l.N)
	l.Hidden, l.Cell = anydiff.NewConst(h.Output()), anydiff.NewConst(c.Output())
	return l.Model.scores(h.Output(), l.N), nil, nil
}

type attentionDecoder struct {
	Model  *Model
	Core   *caprnn.AttentionLSTM
	N      int
	Grid   anydiff.Res
	Hidden anydiff.Res
	Cell   anydiff.Res
}

func (a *attentionDecoder) Step(tokens []int) (scores, weights anyvec.Vector, err error) {
	x, err := a.Model.embedTokens(tokens)
	if err != nil {
		return nil, nil, err
	}
	attn, attnWeights := caprnn.DotProductAttention(a.Hidden, a.Grid, a.N)
	h, c := a.Core.Step(anydiff.NewConst(x), a.Hidden, a.Cell, attn, a.N)
	a.Hidden, a.Cell = anydiff.NewConst(h.Output()), anydiff.NewConst(c.Output())
	return a.Model.scores(h.Output(), a.N), attnWeights.Output(), nil
}
