package captrain

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/capmodel"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestTrainerFetch(t *testing.T) {
	trainer, samples := testTrainer(t)
	batch, err := trainer.Fetch(samples)
	if err != nil {
		t.Fatal(err)
	}
	b := batch.(*Batch)
	expected := [][]int{
		{1, 3, 4, 2, 0},
		{1, 5, 2, 0, 0},
		{1, 3, 3, 5, 2},
	}
	if !reflect.DeepEqual(b.Captions, expected) {
		t.Errorf("expected %v but got %v", expected, b.Captions)
	}
	if b.Features.N != 3 {
		t.Errorf("expected 3 images but got %d", b.Features.N)
	}
	for i, s := range samples {
		size := s.Features.Grid.Len()
		actual := anycap.Float64s(b.Features.Grid.Slice(i*size, (i+1)*size))
		if !reflect.DeepEqual(actual, anycap.Float64s(s.Features.Grid)) {
			t.Errorf("sample %d: features changed", i)
		}
	}
}

func TestTrainerFetchErrors(t *testing.T) {
	trainer, samples := testTrainer(t)
	if _, err := trainer.Fetch(SliceSampleList{}); err == nil {
		t.Error("expected error for empty batch")
	}
	bad := append(SliceSampleList{}, samples...)
	bad[1] = &Sample{Features: samples[1].Features, Caption: []int{1, 17, 2}}
	if _, err := trainer.Fetch(bad); err == nil {
		t.Error("expected error for out-of-range token")
	}
	joined, err := capmodel.JoinFeatures(samples[0].Features, samples[1].Features)
	if err != nil {
		t.Fatal(err)
	}
	bad[1] = &Sample{Features: joined, Caption: []int{1, 2}}
	if _, err := trainer.Fetch(bad); err == nil {
		t.Error("expected error for multi-image sample")
	}
}

func TestTrainerGradient(t *testing.T) {
	trainer, samples := testTrainer(t)
	batch, err := trainer.Fetch(samples)
	if err != nil {
		t.Fatal(err)
	}
	grad := trainer.Gradient(batch)
	for i, p := range trainer.Params {
		g, ok := grad[p]
		if !ok {
			t.Fatalf("missing gradient for parameter %d", i)
		}
		if g.Len() != p.Vector.Len() {
			t.Errorf("parameter %d: gradient has length %d", i, g.Len())
		}
	}
	b := batch.(*Batch)
	loss, err := trainer.Model.Loss(b.Features, b.Captions)
	if err != nil {
		t.Fatal(err)
	}
	expected := anycap.Float64s(loss.Output())[0]
	if actual := trainer.LastCost.(float64); math.Abs(actual-expected) > 1e-10 {
		t.Errorf("expected cost %f but got %f", expected, actual)
	}
}

func TestSortSampleList(t *testing.T) {
	var samples SliceSampleList
	for _, l := range []int{5, 3, 4, 2, 6, 1, 3} {
		samples = append(samples, &Sample{Caption: make([]int, l)})
	}
	sorted := &SortSampleList{SortableSampleList: samples, BatchSize: 3}
	sorted.PostShuffle()
	var lens []int
	for i := 0; i < sorted.Len(); i++ {
		lens = append(lens, sorted.LenAt(i))
	}
	if expected := []int{3, 4, 5, 1, 2, 6, 3}; !reflect.DeepEqual(lens, expected) {
		t.Errorf("expected lengths %v but got %v", expected, lens)
	}
	sliced := sorted.Slice(1, 4).(*SortSampleList)
	if sliced.Len() != 3 || sliced.BatchSize != 3 {
		t.Errorf("bad slice: len %d, batch size %d", sliced.Len(), sliced.BatchSize)
	}
}

func testTrainer(t *testing.T) (*Trainer, SliceSampleList) {
	c := anyvec64.DefaultCreator{}
	vocab, err := anycap.NewVocabulary([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	model, err := capmodel.NewModel(c, capmodel.Config{
		Variant:     anycap.Attention,
		InputDim:    2,
		WordDim:     3,
		HiddenDim:   4,
		IgnoreIndex: vocab.Null(),
	}, vocab)
	if err != nil {
		t.Fatal(err)
	}
	var samples SliceSampleList
	for _, caption := range [][]int{{1, 3, 4, 2}, {1, 5, 2}, {1, 3, 3, 5, 2}} {
		grid := c.MakeVector(caprnn.GridLocations * 2)
		anyvec.Rand(grid, anyvec.Normal, nil)
		feats, err := capmodel.NewFeatures(grid, 1, 2)
		if err != nil {
			t.Fatal(err)
		}
		samples = append(samples, &Sample{Features: feats, Caption: caption})
	}
	return &Trainer{Model: model, Params: model.Parameters(), MaxGos: 2}, samples
}
