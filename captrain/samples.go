package captrain

import (
	"sort"

	"github.com/unixpickle/anycap/capmodel"
	"github.com/unixpickle/anynet/anysgd"
)

// A Sample is an image paired with a ground truth caption.
//
// Features holds the features of exactly one image.
// Caption is a token sequence, typically starting with
// the start token and ending with the end token.
type Sample struct {
	Features *capmodel.Features
	Caption  []int
}

// A SampleList is an anysgd.SampleList that produces
// captioning samples.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
}

// A SortableSampleList is a SampleList with an extra
// LenAt method for efficiently getting the length of a
// caption.
type SortableSampleList interface {
	SampleList

	LenAt(idx int) int
}

// A SliceSampleList is a concrete SampleList with
// predetermined samples.
type SliceSampleList []*Sample

// Len returns the number of samples.
func (s SliceSampleList) Len() int {
	return len(s)
}

// Swap swaps two samples.
func (s SliceSampleList) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Slice copies a sub-slice of the list.
func (s SliceSampleList) Slice(i, j int) anysgd.SampleList {
	return append(SliceSampleList{}, s[i:j]...)
}

// GetSample returns the sample at the index.
func (s SliceSampleList) GetSample(idx int) (*Sample, error) {
	return s[idx], nil
}

// LenAt returns the caption length of the sample at the
// index.
func (s SliceSampleList) LenAt(idx int) int {
	return len(s[idx].Caption)
}

// A SortSampleList wraps a SampleList and ensures that
// samples will be sorted by caption length within
// reasonably small chunks.
// Since captions in a batch are padded to a common
// length, this reduces the number of padded timesteps.
type SortSampleList struct {
	SortableSampleList

	// BatchSize is the size of the chunks that should be
	// sorted.
	BatchSize int
}

// Slice produces a subset of the SortSampleList.
func (s *SortSampleList) Slice(i, j int) anysgd.SampleList {
	sliced := s.SortableSampleList.Slice(i, j)
	return &SortSampleList{
		SortableSampleList: sliced.(SortableSampleList),
		BatchSize:          s.BatchSize,
	}
}

// PostShuffle sorts chunks of samples.
func (s *SortSampleList) PostShuffle() {
	for i := 0; i < s.Len(); i += s.BatchSize {
		bs := s.BatchSize
		if bs > s.Len()-i {
			bs = s.Len() - i
		}
		sort.Sort(&sorter{S: s.SortableSampleList, Start: i, End: i + bs})
	}
}

type sorter struct {
	S     SortableSampleList
	Start int
	End   int
}

func (s *sorter) Len() int {
	return s.End - s.Start
}

func (s *sorter) Swap(i, j int) {
	s.S.Swap(i+s.Start, j+s.Start)
}

func (s *sorter) Less(i, j int) bool {
	return s.S.LenAt(i+s.Start) < s.S.LenAt(j+s.Start)
}
