package anycap

import (
	"fmt"
	"strings"

	"github.com/unixpickle/serializer"
)

func init() {
	var v Variant
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVariant)
}

// A Variant selects the recurrent core of a captioning
// model.
type Variant int

// These are the supported decoder variants.
const (
	Vanilla Variant = iota
	LSTM
	Attention
)

// ParseVariant parses a variant name.
// Both the short names ("rnn", "lstm", "attn") and the
// long names ("vanilla", "lstm", "attention") are
// accepted.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case "rnn", "vanilla":
		return Vanilla, nil
	case "lstm":
		return LSTM, nil
	case "attn", "attention":
		return Attention, nil
	default:
		return 0, &ConfigError{Field: "variant", Value: name}
	}
}

// DeserializeVariant deserializes a Variant.
func DeserializeVariant(d []byte) (Variant, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Variant: data length (%d) should be 1", len(d))
	}
	v := Variant(d[0])
	if !v.Valid() {
		return 0, &ConfigError{Field: "variant", Value: fmt.Sprint(d[0])}
	}
	return v, nil
}

// Valid checks if v is a recognized variant.
func (v Variant) Valid() bool {
	return v >= Vanilla && v <= Attention
}

// String returns the short name of the variant.
func (v Variant) String() string {
	switch v {
	case Vanilla:
		return "rnn"
	case LSTM:
		return "lstm"
	case Attention:
		return "attn"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// SerializerType returns the unique ID used to serialize
// a Variant.
func (v Variant) SerializerType() string {
	return "github.com/unixpickle/anycap.Variant"
}

// Serialize serializes the variant.
func (v Variant) Serialize() ([]byte, error) {
	return []byte{byte(v)}, nil
}
