package anycap

import (
	"errors"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding maps token indices to learned word
// vectors.
//
// Weights is a VocabSize-by-Dim row-major matrix whose
// i-th row is the vector for token i.
type Embedding struct {
	VocabSize int
	Dim       int
	Weights   *anydiff.Var
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var weights *anyvecsave.S
	var dim int
	if err := serializer.DeserializeAny(d, &weights, &dim); err != nil {
		return nil, essentials.AddCtx("deserialize Embedding", err)
	}
	if dim <= 0 || weights.Vector.Len()%dim != 0 {
		return nil, errors.New("deserialize Embedding: invalid matrix dimensions")
	}
	return &Embedding{
		VocabSize: weights.Vector.Len() / dim,
		Dim:       dim,
		Weights:   anydiff.NewVar(weights.Vector),
	}, nil
}

// NewEmbedding creates a randomized Embedding.
// Entries are drawn from a normal distribution with
// variance 1/vocab.
func NewEmbedding(c anyvec.Creator, vocab, dim int) *Embedding {
	res := NewEmbeddingZero(c, vocab, dim)
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, nil)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(vocab))))
	return res
}

// NewEmbeddingZero creates a zero'd Embedding.
func NewEmbeddingZero(c anyvec.Creator, vocab, dim int) *Embedding {
	return &Embedding{
		VocabSize: vocab,
		Dim:       dim,
		Weights:   anydiff.NewVar(c.MakeVector(vocab * dim)),
	}
}

// Embed looks up the vector for every token, producing a
// packed len(tokens)-by-Dim matrix.
//
// The lookup is a product with a one-hot matrix, so
// gradients flow into the rows that were selected.
func (e *Embedding) Embed(tokens []int) (anydiff.Res, error) {
	if len(tokens) == 0 {
		return nil, errors.New("embed: no tokens")
	}
	oneHot := make([]float64, len(tokens)*e.VocabSize)
	for i, tok := range tokens {
		if tok < 0 || tok >= e.VocabSize {
			return nil, &IndexError{Index: tok, Limit: e.VocabSize}
		}
		oneHot[i*e.VocabSize+tok] = 1
	}
	c := e.Weights.Vector.Creator()
	selector := &anydiff.Matrix{
		Data: anydiff.NewConst(MakeVector(c, oneHot)),
		Rows: len(tokens),
		Cols: e.VocabSize,
	}
	table := &anydiff.Matrix{Data: e.Weights, Rows: e.VocabSize, Cols: e.Dim}
	return anydiff.MatMul(false, false, selector, table).Data, nil
}

// Parameters returns a slice containing the weights.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Weights}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/unixpickle/anycap.Embedding"
}

// Serialize serializes the Embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(&anyvecsave.S{Vector: e.Weights.Vector}, e.Dim)
}
