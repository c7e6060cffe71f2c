// Command caption trains a small captioning model on
// synthetic images and prints greedy samples.
//
// Each synthetic image is a 4x4 grid of RGB pixels whose
// caption names its dominant color and whether its bright
// pixels sit in the top half or the bottom half.
package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/capmodel"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/anycap/captrain"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
	"github.com/unixpickle/serializer"
)

var Creator anyvec.Creator

var (
	colors    = []string{"red", "green", "blue"}
	positions = []string{"top", "bottom"}
)

const pixelDepth = 3

func main() {
	var variantName string
	var featureDim, wordDim, hiddenDim int
	var numSamples, batchSize, maxLen int
	var stepSize float64
	var outFile string
	flag.StringVar(&variantName, "variant", "attn", "decoder variant (rnn, lstm, attn)")
	flag.IntVar(&featureDim, "features", 16, "image feature depth")
	flag.IntVar(&wordDim, "word", 16, "word vector size")
	flag.IntVar(&hiddenDim, "hidden", 32, "hidden state size")
	flag.IntVar(&numSamples, "samples", 1024, "number of training images")
	flag.IntVar(&batchSize, "batch", 32, "mini-batch size")
	flag.IntVar(&maxLen, "maxlen", 8, "maximum sampled caption length")
	flag.Float64Var(&stepSize, "step", 0.003, "Adam step size")
	flag.StringVar(&outFile, "out", "", "file to save the trained model to")
	flag.Parse()

	log.Println("Setting up...")

	Creator = anyvec64.CurrentCreator()

	variant, err := anycap.ParseVariant(variantName)
	if err != nil {
		essentials.Die(err)
	}
	vocab, err := anycap.NewVocabulary(append(append([]string{"a", "pixels", "at", "the"},
		colors...), positions...))
	if err != nil {
		essentials.Die(err)
	}
	model, err := capmodel.NewModel(Creator, capmodel.Config{
		Variant:     variant,
		InputDim:    featureDim,
		WordDim:     wordDim,
		HiddenDim:   hiddenDim,
		IgnoreIndex: vocab.Null(),
	}, vocab)
	if err != nil {
		essentials.Die(err)
	}
	encoder := newPixelEncoder(featureDim)

	samples, err := syntheticSamples(encoder, vocab, numSamples)
	if err != nil {
		essentials.Die(err)
	}

	t := &captrain.Trainer{
		Model:  model,
		Params: model.Parameters(),
	}

	var iterNum int
	s := &anysgd.SGD{
		Fetcher:     t,
		Gradienter:  t,
		Transformer: &anysgd.Adam{},
		Samples:     &captrain.SortSampleList{SortableSampleList: samples, BatchSize: batchSize},
		Rater:       anysgd.ConstRater(stepSize),
		StatusFunc: func(b anysgd.Batch) {
			log.Printf("iter %d: cost=%v", iterNum, t.LastCost)
			iterNum++
		},
		BatchSize: batchSize,
	}

	log.Println("Press ctrl+c once to stop...")
	s.Run(rip.NewRIP().Chan())

	log.Println("Sampling...")
	printSamples(encoder, model, vocab, maxLen)

	if outFile != "" {
		data, err := serializer.SerializeAny(model)
		if err != nil {
			essentials.Die(err)
		}
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			essentials.Die(err)
		}
		log.Println("Saved model to", outFile)
	}
}

// pixelEncoder is a frozen random encoder which maps
// every pixel to a feature vector.
type pixelEncoder struct {
	Net anynet.Net
}

func newPixelEncoder(depth int) *pixelEncoder {
	return &pixelEncoder{
		Net: anynet.Net{
			anynet.NewFC(Creator, pixelDepth, depth),
			anynet.Tanh,
		},
	}
}

// Encode encodes a batch of n images, each packed as 16
// RGB pixels in row-major order.
func (p *pixelEncoder) Encode(images anyvec.Vector, n int) (*capmodel.Features, error) {
	out := p.Net.Apply(anydiff.NewConst(images), n*caprnn.GridLocations).Output()
	return capmodel.NewFeatures(out, n, p.Net[0].(*anynet.FC).OutCount)
}

// syntheticImage generates a random image and its
// caption.
func syntheticImage() (pixels []float64, words []string) {
	color := rand.Intn(len(colors))
	position := rand.Intn(len(positions))
	pixels = make([]float64, caprnn.GridLocations*pixelDepth)
	for i := range pixels {
		pixels[i] = rand.Float64() * 0.2
	}
	for loc := 0; loc < caprnn.GridLocations; loc++ {
		row := loc / caprnn.GridSide
		if (row < caprnn.GridSide/2) == (position == 0) {
			pixels[loc*pixelDepth+color] += 0.8
		}
	}
	return pixels, []string{"a", colors[color], "pixels", "at", "the", positions[position]}
}

func syntheticSamples(enc capmodel.Encoder, vocab *anycap.Vocabulary,
	count int) (captrain.SliceSampleList, error) {
	var res captrain.SliceSampleList
	for i := 0; i < count; i++ {
		pixels, words := syntheticImage()
		feats, err := enc.Encode(anycap.MakeVector(Creator, pixels), 1)
		if err != nil {
			return nil, err
		}
		caption, err := vocab.Encode(words)
		if err != nil {
			return nil, err
		}
		res = append(res, &captrain.Sample{Features: feats, Caption: caption})
	}
	return res, nil
}

func printSamples(enc capmodel.Encoder, model *capmodel.Model, vocab *anycap.Vocabulary,
	maxLen int) {
	const numImages = 5
	var pixels []float64
	var truth [][]string
	for i := 0; i < numImages; i++ {
		p, words := syntheticImage()
		pixels = append(pixels, p...)
		truth = append(truth, words)
	}
	feats, err := enc.Encode(anycap.MakeVector(Creator, pixels), numImages)
	if err != nil {
		essentials.Die(err)
	}
	sample, err := model.Sample(feats, maxLen)
	if err != nil {
		essentials.Die(err)
	}
	for i, tokens := range sample.Captions {
		words, err := vocab.Decode(tokens)
		if err != nil {
			essentials.Die(err)
		}
		log.Printf("expected %q, sampled %q", strings.Join(truth[i], " "),
			strings.Join(words, " "))
		if sample.Attention != nil {
			log.Printf("  first attention map: %.2f", sample.AttentionMap(i, 0))
		}
	}
}
