package anycap

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// NoIgnore is an IgnoreIndex which matches no token.
const NoIgnore = -1

// MaskedCE is a temporal softmax cross-entropy cost.
//
// Scores are packed one row of vocabulary scores per
// position, and each position has a target token.
// Positions whose target is IgnoreIndex contribute
// neither cost nor gradient.
// The per-position costs are summed, then divided by the
// batch size, so the result is summed over time and
// averaged over the batch.
//
// The zero value ignores token 0.
// Use NoIgnore to count every position.
type MaskedCE struct {
	IgnoreIndex int
}

// Validate checks that every target which is not ignored
// falls inside a vocabulary of the given size.
func (m MaskedCE) Validate(targets []int, vocabSize int) error {
	for _, t := range targets {
		if t == m.IgnoreIndex {
			continue
		}
		if t < 0 || t >= vocabSize {
			return &IndexError{Index: t, Limit: vocabSize}
		}
	}
	return nil
}

// Cost computes the masked cross-entropy.
// There must be one target per row of scores.
// The result has one component.
//
// Targets which are not ignored must be in range; use
// Validate to check them beforehand.
func (m MaskedCE) Cost(targets []int, scores anydiff.Res, batch int) anydiff.Res {
	vocab := BatchSize("masked cross-entropy", "scores", scores.Output(), len(targets))
	if err := m.Validate(targets, vocab); err != nil {
		panic(fmt.Sprintf("masked cross-entropy: %s", err))
	}
	mask := make([]float64, len(targets)*vocab)
	for i, t := range targets {
		if t != m.IgnoreIndex {
			mask[i*vocab+t] = 1
		}
	}
	c := scores.Output().Creator()
	logProbs := anydiff.LogSoftmax(scores, vocab)
	picked := anydiff.Mul(anydiff.NewConst(MakeVector(c, mask)), logProbs)
	return anydiff.Scale(anydiff.Sum(picked), c.MakeNumeric(-1/float64(batch)))
}
