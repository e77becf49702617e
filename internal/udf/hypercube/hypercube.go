// Package hypercube holds labelled n-dimensional arrays and their wire,
// cube-file and multi-band raster encodings.
package hypercube

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Coordinates is the coordinate sequence of one axis. Exactly one of
// Values and Labels is populated; Labels carries text coordinates such as
// timestamps.
type Coordinates struct {
	DType  ndarray.DType
	Values []float64
	Labels []string
}

func NumericCoords(values ...float64) *Coordinates {
	return &Coordinates{DType: ndarray.Float64, Values: values}
}

func LabelCoords(labels ...string) *Coordinates {
	return &Coordinates{Labels: labels}
}

func (c *Coordinates) Len() int {
	if c.IsLabels() {
		return len(c.Labels)
	}
	return len(c.Values)
}

func (c *Coordinates) IsLabels() bool { return c.Labels != nil }

// Label renders coordinate i as text.
func (c *Coordinates) Label(i int) string {
	if c.IsLabels() {
		return c.Labels[i]
	}
	return strconv.FormatFloat(c.Values[i], 'g', -1, 64)
}

func (c *Coordinates) Equal(o *Coordinates) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.IsLabels() != o.IsLabels() {
		return false
	}
	if c.IsLabels() {
		return slices.Equal(c.Labels, o.Labels)
	}
	return slices.Equal(c.Values, o.Values)
}

func (c *Coordinates) wire(jsonSafe bool) []any {
	out := make([]any, c.Len())
	for i := range out {
		switch {
		case c.IsLabels():
			out[i] = c.Labels[i]
		case jsonSafe:
			out[i] = codec.JSONFloat(c.Values[i])
		default:
			out[i] = c.Values[i]
		}
	}
	return out
}

func coordsFromWire(raw []any) (*Coordinates, error) {
	if len(raw) == 0 {
		return &Coordinates{DType: ndarray.Float64, Values: []float64{}}, nil
	}
	if textCoords(raw) {
		labels := make([]string, len(raw))
		for i, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, udferr.Invalid("coordinates mix text and numbers at index %d", i)
			}
			labels[i] = s
		}
		return &Coordinates{Labels: labels}, nil
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		f, err := codec.Float(v)
		if err != nil {
			return nil, udferr.Invalid("coordinate %d: %v", i, err)
		}
		values[i] = f
	}
	return &Coordinates{DType: ndarray.Float64, Values: values}, nil
}

// textCoords reports whether raw holds label coordinates: any string other
// than a non-finite number token makes it text.
func textCoords(raw []any) bool {
	for _, v := range raw {
		if s, ok := v.(string); ok && !codec.IsNonFiniteToken(s) {
			return true
		}
	}
	return false
}

func (c *Coordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire(true))
}

func (c *Coordinates) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(codec.QuoteNonFinite(b), &raw); err != nil {
		return udferr.Invalid("coordinates: %v", err)
	}
	out, err := coordsFromWire(raw)
	if err != nil {
		return err
	}
	*c = *out
	return nil
}

func (c *Coordinates) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(c.wire(false))
}

func (c *Coordinates) UnmarshalCBOR(b []byte) error {
	var raw []any
	if err := codec.Unmarshal(b, &raw); err != nil {
		return udferr.Invalid("coordinates: %v", err)
	}
	out, err := coordsFromWire(raw)
	if err != nil {
		return err
	}
	*c = *out
	return nil
}

type Dimension struct {
	Name        string       `json:"name"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// HyperCube is a named array with one Dimension per axis, in axis order.
type HyperCube struct {
	ID          string
	Data        *ndarray.NDArray
	Dims        []Dimension
	Description string
}

// New validates that dims match the array's axes. A nil dims slice names
// the axes dim_0, dim_1, ...
func New(id string, data *ndarray.NDArray, dims []Dimension, description string) (*HyperCube, error) {
	if data == nil {
		return nil, udferr.Missing("hypercube", "data")
	}
	if dims == nil {
		dims = make([]Dimension, data.Rank())
		for i := range dims {
			dims[i].Name = fmt.Sprintf("dim_%d", i)
		}
	}
	if len(dims) != data.Rank() {
		return nil, fmt.Errorf("hypercube %q: %d dimensions for rank %d data: %w",
			id, len(dims), data.Rank(), udferr.ErrSizeMismatch)
	}
	seen := make(map[string]struct{}, len(dims))
	for i, d := range dims {
		if d.Name == "" {
			return nil, udferr.Invalid("hypercube %q: dimension %d has no name", id, i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, udferr.Invalid("hypercube %q: duplicate dimension %q", id, d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Coordinates != nil && d.Coordinates.Len() != data.Shape[i] {
			return nil, fmt.Errorf("hypercube %q: dimension %q has %d coordinates for size %d: %w",
				id, d.Name, d.Coordinates.Len(), data.Shape[i], udferr.ErrSizeMismatch)
		}
	}
	return &HyperCube{ID: id, Data: data, Dims: dims, Description: description}, nil
}

func (h *HyperCube) DimNames() []string {
	out := make([]string, len(h.Dims))
	for i, d := range h.Dims {
		out[i] = d.Name
	}
	return out
}

// Axis returns the index of the named dimension or -1.
func (h *HyperCube) Axis(name string) int {
	return slices.IndexFunc(h.Dims, func(d Dimension) bool { return d.Name == name })
}

// Transpose reorders axes so that the result's dimensions follow names.
func (h *HyperCube) Transpose(names ...string) (*HyperCube, error) {
	if len(names) != len(h.Dims) {
		return nil, udferr.Invalid("hypercube %q: transpose needs %d names, got %d", h.ID, len(h.Dims), len(names))
	}
	perm := make([]int, len(names))
	dims := make([]Dimension, len(names))
	for i, n := range names {
		ax := h.Axis(n)
		if ax < 0 {
			return nil, udferr.Invalid("hypercube %q: no dimension %q", h.ID, n)
		}
		perm[i] = ax
		dims[i] = h.Dims[ax]
	}
	data, err := h.Data.Transpose(perm...)
	if err != nil {
		return nil, err
	}
	return &HyperCube{ID: h.ID, Data: data, Dims: dims, Description: h.Description}, nil
}

func (h *HyperCube) Equal(o *HyperCube) bool {
	if h == nil || o == nil {
		return h == o
	}
	if h.ID != o.ID || h.Description != o.Description || len(h.Dims) != len(o.Dims) {
		return false
	}
	for i := range h.Dims {
		if h.Dims[i].Name != o.Dims[i].Name || !h.Dims[i].Coordinates.Equal(o.Dims[i].Coordinates) {
			return false
		}
	}
	return h.Data.Equal(o.Data)
}

type cubeWire struct {
	ID          *string     `json:"id"`
	Data        any         `json:"data"`
	Dimensions  []Dimension `json:"dimensions"`
	Description string      `json:"description,omitempty"`
}

func (h *HyperCube) toWire(jsonSafe bool) cubeWire {
	id := h.ID
	data := h.Data.Nested()
	if jsonSafe {
		data = h.Data.NestedJSON()
	}
	return cubeWire{ID: &id, Data: data, Dimensions: h.Dims, Description: h.Description}
}

// shapeHint gives the extent of each named axis that has coordinates, -1
// otherwise.
func shapeHint(dims []Dimension) []int {
	hint := make([]int, len(dims))
	for i, d := range dims {
		hint[i] = -1
		if d.Coordinates != nil {
			hint[i] = d.Coordinates.Len()
		}
	}
	return hint
}

func cubeFromWire(w cubeWire) (*HyperCube, error) {
	if w.ID == nil {
		return nil, udferr.Missing("hypercube", "id")
	}
	if w.Data == nil {
		return nil, fmt.Errorf("hypercube %q: %w", *w.ID, udferr.Missing("hypercube", "data"))
	}
	data, err := ndarray.FromNestedShape(w.Data, shapeHint(w.Dimensions))
	if err != nil {
		return nil, fmt.Errorf("hypercube %q: %w", *w.ID, err)
	}
	return New(*w.ID, data, w.Dimensions, w.Description)
}

func (h *HyperCube) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.toWire(true))
}

func (h *HyperCube) UnmarshalJSON(b []byte) error {
	var w cubeWire
	if err := json.Unmarshal(codec.QuoteNonFinite(b), &w); err != nil {
		return fmt.Errorf("hypercube: %w", err)
	}
	out, err := cubeFromWire(w)
	if err != nil {
		return err
	}
	*h = *out
	return nil
}

func (h *HyperCube) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(h.toWire(false))
}

func (h *HyperCube) UnmarshalCBOR(b []byte) error {
	var w cubeWire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("hypercube: %w", err)
	}
	out, err := cubeFromWire(w)
	if err != nil {
		return err
	}
	*h = *out
	return nil
}
