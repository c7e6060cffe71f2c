// Package captrain trains captioning models with anysgd.
package captrain

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/capmodel"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Batch stores the features and padded captions for a
// mini-batch.
type Batch struct {
	Features *capmodel.Features

	// Captions all have the same length.
	// Shorter captions are padded with the null token.
	Captions [][]int
}

// A Trainer can construct batches, compute gradients, and
// tally up costs for a captioning model.
type Trainer struct {
	Model  *capmodel.Model
	Params []*anydiff.Var

	// After every gradient computation, LastCost is set to
	// the cost from the batch.
	LastCost anyvec.Numeric

	// MaxGos specifies the maximum goroutines to use
	// simultaneously for fetching samples.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList.
// The batch may not be empty.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}

	l := s.(SampleList)
	feats := make([]*capmodel.Features, l.Len())
	captions := make([][]int, l.Len())

	idxChan := make(chan int, l.Len())
	for i := 0; i < l.Len(); i++ {
		idxChan <- i
	}
	close(idxChan)

	maxGos := t.MaxGos
	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	wg := sync.WaitGroup{}
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				sample, err := l.GetSample(i)
				if err == nil {
					err = t.checkSample(sample)
				}
				if err != nil {
					errChan <- essentials.AddCtx("fetch batch", err)
					return
				}
				feats[i] = sample.Features
				captions[i] = sample.Caption
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	joined, err := capmodel.JoinFeatures(feats...)
	if err != nil {
		return nil, essentials.AddCtx("fetch batch", err)
	}
	return &Batch{Features: joined, Captions: t.pad(captions)}, nil
}

// TotalCost computes the model's loss for the *Batch.
func (t *Trainer) TotalCost(batch anysgd.Batch) anydiff.Res {
	b := batch.(*Batch)
	cost, err := t.Model.Loss(b.Features, b.Captions)
	essentials.Must(err)
	return cost
}

// Gradient computes the gradient for the batch's cost.
// It also sets t.LastCost to the numerical value of the
// total cost.
//
// The b argument must be a *Batch.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	grad, lc := anysgd.CosterGrad(t, b, t.Params)
	t.LastCost = lc
	return grad
}

func (t *Trainer) checkSample(s *Sample) error {
	if s.Features.N != 1 {
		return fmt.Errorf("sample should have 1 image but has %d", s.Features.N)
	}
	if len(s.Caption) < 2 {
		return errors.New("caption needs at least 2 tokens")
	}
	for _, tok := range s.Caption {
		if tok < 0 || tok >= t.Model.VocabSize() {
			return &anycap.IndexError{Index: tok, Limit: t.Model.VocabSize()}
		}
	}
	return nil
}

func (t *Trainer) pad(captions [][]int) [][]int {
	var maxLen int
	for _, c := range captions {
		maxLen = essentials.MaxInt(maxLen, len(c))
	}
	res := make([][]int, len(captions))
	for i, c := range captions {
		res[i] = append(make([]int, 0, maxLen), c...)
		for len(res[i]) < maxLen {
			res[i] = append(res[i], t.Model.NullToken)
		}
	}
	return res
}
