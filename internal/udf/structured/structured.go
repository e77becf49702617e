// Package structured carries free-form results that are neither raster nor
// vector data.
package structured

import (
	"encoding/json"
	"fmt"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Kind hints at the payload shape. It is not checked against Data.
type Kind string

const (
	Dict  Kind = "dict"
	List  Kind = "list"
	Table Kind = "table"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Dict, List, Table:
		return k, nil
	default:
		return "", udferr.Invalid("structured data: unknown type %q", s)
	}
}

type StructuredData struct {
	Description string
	Data        any
	Type        Kind
}

func New(description string, data any, kind Kind) (*StructuredData, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	return &StructuredData{Description: description, Data: data, Type: kind}, nil
}

type wire struct {
	Description *string `json:"description"`
	Data        any     `json:"data"`
	Type        *string `json:"type"`
}

func (s *StructuredData) toWire() wire {
	d, k := s.Description, string(s.Type)
	return wire{Description: &d, Data: s.Data, Type: &k}
}

func fromWire(w wire) (*StructuredData, error) {
	if w.Type == nil {
		return nil, udferr.Missing("structured data", "type")
	}
	if w.Description == nil {
		return nil, udferr.Missing("structured data", "description")
	}
	return New(*w.Description, w.Data, Kind(*w.Type))
}

func (s *StructuredData) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// UnmarshalJSON keeps numbers in Data as json.Number so the payload
// re-encodes unchanged.
func (s *StructuredData) UnmarshalJSON(b []byte) error {
	var w wire
	if err := codec.DecodeJSON(b, &w); err != nil {
		return fmt.Errorf("structured data: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*s = *out
	return nil
}

func (s *StructuredData) MarshalCBOR() ([]byte, error) {
	w := s.toWire()
	w.Data = codec.Plain(w.Data)
	return codec.Marshal(w)
}

func (s *StructuredData) UnmarshalCBOR(b []byte) error {
	var w wire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("structured data: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*s = *out
	return nil
}
