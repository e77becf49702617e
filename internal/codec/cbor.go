// Package codec holds the CBOR configuration used for the binary UDF wire
// encoding and for the on-disk cube and model formats.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// parcel always produces the same bytes. Struct fields fall back to their
// json tags, so one set of wire types serves both encodings.
package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Timestamps implement encoding.TextMarshaler and travel as text.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Opaque maps (proj, user_context, structured data) must come back
		// as map[string]any, same as encoding/json would produce.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type (
	Encoder    = cbor.Encoder
	Decoder    = cbor.Decoder
	RawMessage = cbor.RawMessage
)

func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Float converts a decoded numeric value to float64. JSON decoding yields
// float64 or json.Number, while CBOR may hand back any integer width.
// Non-finite tokens read as their IEEE values and null reads as NaN.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		if f, ok := nonFinite(n); ok {
			return f, nil
		}
		return 0, fmt.Errorf("expected number, got string %q", n)
	case nil:
		return math.NaN(), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
