package anycap

import (
	"fmt"

	"github.com/unixpickle/essentials"
)

// These are the reserved vocabulary words.
const (
	NullWord  = "<NULL>"
	StartWord = "<START>"
	EndWord   = "<END>"
)

// A Vocabulary is a bijection between words and token
// indices in the range [0, Len()).
//
// Every Vocabulary contains the three reserved words,
// which occupy indices 0, 1, and 2 unless the word list
// used to create the vocabulary put them elsewhere.
type Vocabulary struct {
	words   []string
	indices map[string]int
}

// NewVocabulary creates a Vocabulary from a list of
// words.
// Reserved words missing from the list are prepended.
// Duplicate words are an error.
func NewVocabulary(words []string) (*Vocabulary, error) {
	res := &Vocabulary{indices: map[string]int{}}
	for _, reserved := range []string{NullWord, StartWord, EndWord} {
		if !containsWord(words, reserved) {
			res.add(reserved)
		}
	}
	for _, w := range words {
		if _, ok := res.indices[w]; ok {
			return nil, fmt.Errorf("new vocabulary: duplicate word %q", w)
		}
		res.add(w)
	}
	return res, nil
}

// Len returns the number of words.
func (v *Vocabulary) Len() int {
	return len(v.words)
}

// Null returns the index of the padding word.
func (v *Vocabulary) Null() int {
	return v.indices[NullWord]
}

// Start returns the index of the start-of-sequence word.
func (v *Vocabulary) Start() int {
	return v.indices[StartWord]
}

// End returns the index of the end-of-sequence word.
func (v *Vocabulary) End() int {
	return v.indices[EndWord]
}

// Index looks up the index of a word.
func (v *Vocabulary) Index(word string) (int, error) {
	if idx, ok := v.indices[word]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("vocabulary index: unknown word %q", word)
}

// Word looks up the word for an index.
func (v *Vocabulary) Word(idx int) (string, error) {
	if idx < 0 || idx >= len(v.words) {
		return "", &IndexError{Index: idx, Limit: len(v.words)}
	}
	return v.words[idx], nil
}

// Encode converts a caption to token indices, surrounded
// by the start and end tokens.
func (v *Vocabulary) Encode(words []string) ([]int, error) {
	res := make([]int, 0, len(words)+2)
	res = append(res, v.Start())
	for _, w := range words {
		idx, err := v.Index(w)
		if err != nil {
			return nil, essentials.AddCtx("encode", err)
		}
		res = append(res, idx)
	}
	return append(res, v.End()), nil
}

// Decode converts token indices back to words.
// Decoding stops at the first end token.
// Start and null tokens are skipped.
func (v *Vocabulary) Decode(tokens []int) ([]string, error) {
	var res []string
	for _, tok := range tokens {
		switch tok {
		case v.End():
			return res, nil
		case v.Start(), v.Null():
			continue
		}
		w, err := v.Word(tok)
		if err != nil {
			return nil, essentials.AddCtx("decode", err)
		}
		res = append(res, w)
	}
	return res, nil
}

func (v *Vocabulary) add(word string) {
	v.indices[word] = len(v.words)
	v.words = append(v.words, word)
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}
