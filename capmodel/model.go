// Package capmodel assembles complete recurrent
// captioning models from the blocks in caprnn.
package capmodel

import (
	"fmt"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Config describes the dimensions of a Model.
type Config struct {
	Variant anycap.Variant

	// InputDim is the depth of the image features.
	InputDim int

	// WordDim is the size of a word vector.
	WordDim int

	// HiddenDim is the size of the recurrent state.
	HiddenDim int

	// IgnoreIndex is the target token which the training
	// loss skips, or anycap.NoIgnore.
	IgnoreIndex int
}

// A Core is the recurrent block of a Model.
// It is a *caprnn.Vanilla, a *caprnn.LSTM, or a
// *caprnn.AttentionLSTM, depending on the variant.
type Core interface {
	anynet.Parameterizer
	serializer.Serializer
}

// A Model is a recurrent image captioning network.
//
// Image features are projected into the recurrent state
// space by FeatureProj.
// For the attention variant, FeatureProj is applied to
// every location of the feature grid and the result is
// the grid the core attends over.
// Otherwise, it is applied to the pooled features to get
// the initial hidden state.
type Model struct {
	Variant anycap.Variant

	NullToken  int
	StartToken int
	EndToken   int

	IgnoreIndex int

	FeatureProj *anynet.FC
	Embedding   *anycap.Embedding
	Core        Core
	OutProj     *anynet.FC
}

// NewModel creates a randomized Model for a vocabulary.
func NewModel(c anyvec.Creator, cfg Config, vocab *anycap.Vocabulary) (*Model, error) {
	if !cfg.Variant.Valid() {
		return nil, essentials.AddCtx("new model",
			&anycap.ConfigError{Field: "variant", Value: cfg.Variant.String()})
	}
	dims := []struct {
		name string
		val  int
	}{
		{"input dim", cfg.InputDim},
		{"word dim", cfg.WordDim},
		{"hidden dim", cfg.HiddenDim},
	}
	for _, d := range dims {
		if d.val <= 0 {
			return nil, essentials.AddCtx("new model",
				&anycap.ConfigError{Field: d.name, Value: fmt.Sprint(d.val)})
		}
	}

	res := &Model{
		Variant:     cfg.Variant,
		NullToken:   vocab.Null(),
		StartToken:  vocab.Start(),
		EndToken:    vocab.End(),
		IgnoreIndex: cfg.IgnoreIndex,
		FeatureProj: anynet.NewFC(c, cfg.InputDim, cfg.HiddenDim),
		Embedding:   anycap.NewEmbedding(c, vocab.Len(), cfg.WordDim),
		OutProj:     anynet.NewFC(c, cfg.HiddenDim, vocab.Len()),
	}
	switch cfg.Variant {
	case anycap.Vanilla:
		res.Core = caprnn.NewVanilla(c, cfg.WordDim, cfg.HiddenDim)
	case anycap.LSTM:
		res.Core = caprnn.NewLSTM(c, cfg.WordDim, cfg.HiddenDim)
	case anycap.Attention:
		res.Core = caprnn.NewAttentionLSTM(c, cfg.WordDim, cfg.HiddenDim)
	}
	return res, nil
}

// HiddenDim returns the size of the recurrent state.
func (m *Model) HiddenDim() int {
	return m.FeatureProj.OutCount
}

// VocabSize returns the number of tokens the model
// scores.
func (m *Model) VocabSize() int {
	return m.OutProj.OutCount
}

// Loss computes the training loss for a batch of ground
// truth captions.
//
// Every caption is a sequence of T+1 tokens, typically
// starting with the start token and padded with the null
// token.
// The first T tokens are fed to the decoder and the last
// T are the targets.
// The result is summed over time and averaged over the
// batch.
func (m *Model) Loss(f *Features, captions [][]int) (anydiff.Res, error) {
	if err := m.checkFeatures(f); err != nil {
		return nil, essentials.AddCtx("model loss", err)
	}
	if len(captions) != f.N {
		return nil, essentials.AddCtx("model loss", &anycap.ShapeError{
			Op:       "model loss",
			What:     "caption batch",
			Expected: f.N,
			Actual:   len(captions),
		})
	}
	steps := len(captions[0]) - 1
	if steps < 1 {
		return nil, fmt.Errorf("model loss: captions need at least 2 tokens")
	}
	inputs := make([]int, 0, steps*f.N)
	targets := make([]int, 0, steps*f.N)
	for t := 0; t < steps; t++ {
		for i, caption := range captions {
			if len(caption) != steps+1 {
				return nil, essentials.AddCtx("model loss", &anycap.ShapeError{
					Op:       "model loss",
					What:     fmt.Sprintf("caption %d", i),
					Expected: steps + 1,
					Actual:   len(caption),
				})
			}
			inputs = append(inputs, caption[t])
			targets = append(targets, caption[t+1])
		}
	}

	cost := anycap.MaskedCE{IgnoreIndex: m.IgnoreIndex}
	if err := cost.Validate(targets, m.VocabSize()); err != nil {
		return nil, essentials.AddCtx("model loss", err)
	}
	scores, err := m.teacherForce(f, inputs, steps)
	if err != nil {
		return nil, essentials.AddCtx("model loss", err)
	}
	return cost.Cost(targets, scores, f.N), nil
}

// Parameters returns the learnable variables of every
// component.
func (m *Model) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, p := range []anynet.Parameterizer{m.FeatureProj, m.Embedding, m.Core, m.OutProj} {
		res = append(res, p.Parameters()...)
	}
	return res
}

// teacherForce scores the vocabulary at every timestep
// given packed, time-major input tokens.
func (m *Model) teacherForce(f *Features, inputs []int, steps int) (anydiff.Res, error) {
	words, err := m.Embedding.Embed(inputs)
	if err != nil {
		return nil, err
	}
	init := m.initialState(f)
	var hidden anydiff.Res
	switch core := m.Core.(type) {
	case *caprnn.Vanilla:
		hidden = core.Apply(words, init, steps, f.N)
	case *caprnn.LSTM:
		hidden = core.Apply(words, init, steps, f.N)
	case *caprnn.AttentionLSTM:
		hidden = core.Apply(words, init, steps, f.N)
	default:
		return nil, fmt.Errorf("unsupported core type: %T", core)
	}
	return m.OutProj.Apply(hidden, steps*f.N), nil
}

// initialState projects the features into the state
// space.
// For the attention variant, this is the projected grid.
// Otherwise, it is the initial hidden state.
func (m *Model) initialState(f *Features) anydiff.Res {
	if m.Variant == anycap.Attention {
		return m.FeatureProj.Apply(anydiff.NewConst(f.Grid), f.N*caprnn.GridLocations)
	}
	return m.FeatureProj.Apply(anydiff.NewConst(f.Pooled()), f.N)
}

func (m *Model) checkFeatures(f *Features) error {
	if f.Depth != m.FeatureProj.InCount {
		return &anycap.ShapeError{
			Op:       "project features",
			What:     "feature depth",
			Expected: m.FeatureProj.InCount,
			Actual:   f.Depth,
		}
	}
	return nil
}
