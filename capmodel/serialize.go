package capmodel

import (
	"errors"

	"github.com/unixpickle/anycap"
	"github.com/unixpickle/anycap/caprnn"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	var res Model
	err := serializer.DeserializeAny(d, &res.Variant, &res.NullToken, &res.StartToken,
		&res.EndToken, &res.IgnoreIndex, &res.FeatureProj, &res.Embedding, &res.Core,
		&res.OutProj)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	var ok bool
	switch res.Variant {
	case anycap.Vanilla:
		_, ok = res.Core.(*caprnn.Vanilla)
	case anycap.LSTM:
		_, ok = res.Core.(*caprnn.LSTM)
	case anycap.Attention:
		_, ok = res.Core.(*caprnn.AttentionLSTM)
	}
	if !ok {
		return nil, errors.New("deserialize Model: core does not match variant")
	}
	if res.FeatureProj.OutCount != res.OutProj.InCount ||
		res.Embedding.VocabSize != res.OutProj.OutCount {
		return nil, errors.New("deserialize Model: inconsistent dimensions")
	}
	return &res, nil
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/anycap/capmodel.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		m.Variant,
		m.NullToken,
		m.StartToken,
		m.EndToken,
		m.IgnoreIndex,
		m.FeatureProj,
		m.Embedding,
		m.Core,
		m.OutProj,
	)
}
