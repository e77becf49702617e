// Package ndarray is the dense row-major numeric array behind raster tiles
// and hypercubes.
package ndarray

import (
	"fmt"
	"math"
	"slices"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// DType names the numeric type values are persisted as. Values are always
// held as float64 in memory.
type DType string

const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int64   DType = "int64"
	Int32   DType = "int32"
	Int16   DType = "int16"
	Uint16  DType = "uint16"
	Uint8   DType = "uint8"
)

func ParseDType(s string) (DType, error) {
	switch d := DType(s); d {
	case Float64, Float32, Int64, Int32, Int16, Uint16, Uint8:
		return d, nil
	case "":
		return Float64, nil
	default:
		return "", udferr.Invalid("unsupported dtype %q", s)
	}
}

// Size is the width in bytes of one element.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Int16, Uint16:
		return 2
	case Uint8:
		return 1
	default:
		return 8
	}
}

// Cast rounds v the way storing it as d would.
func (d DType) Cast(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Int64:
		return float64(int64(v))
	case Int32:
		return float64(int32(v))
	case Int16:
		return float64(int16(v))
	case Uint16:
		return float64(uint16(v))
	case Uint8:
		return float64(uint8(v))
	default:
		return v
	}
}

type NDArray struct {
	DType  DType
	Shape  []int
	Values []float64
}

// New checks that len(values) matches shape.
func New(dtype DType, shape []int, values []float64) (*NDArray, error) {
	if dtype == "" {
		dtype = Float64
	}
	n := 1
	for i, s := range shape {
		if s < 0 {
			return nil, udferr.Invalid("ndarray: negative extent %d on axis %d", s, i)
		}
		n *= s
	}
	if n != len(values) {
		return nil, fmt.Errorf("ndarray: shape %v needs %d values, got %d: %w",
			shape, n, len(values), udferr.ErrSizeMismatch)
	}
	return &NDArray{DType: dtype, Shape: slices.Clone(shape), Values: values}, nil
}

// Zeros allocates a float64 array of the given shape.
func Zeros(shape ...int) *NDArray {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &NDArray{DType: Float64, Shape: slices.Clone(shape), Values: make([]float64, n)}
}

func (a *NDArray) Rank() int { return len(a.Shape) }

func (a *NDArray) Len() int { return len(a.Values) }

// Leading is the length of the first axis, or 0 for a scalar.
func (a *NDArray) Leading() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

func (a *NDArray) offset(idx []int) (int, error) {
	if len(idx) != len(a.Shape) {
		return 0, udferr.Invalid("ndarray: index rank %d for array rank %d", len(idx), len(a.Shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.Shape[i] {
			return 0, udferr.Invalid("ndarray: index %d out of range [0,%d) on axis %d", v, a.Shape[i], i)
		}
		off = off*a.Shape[i] + v
	}
	return off, nil
}

func (a *NDArray) At(idx ...int) (float64, error) {
	off, err := a.offset(idx)
	if err != nil {
		return 0, err
	}
	return a.Values[off], nil
}

func (a *NDArray) Set(v float64, idx ...int) error {
	off, err := a.offset(idx)
	if err != nil {
		return err
	}
	a.Values[off] = v
	return nil
}

// Reshape returns a view with a new shape over the same values.
func (a *NDArray) Reshape(shape ...int) (*NDArray, error) {
	return New(a.DType, shape, a.Values)
}

func (a *NDArray) Clone() *NDArray {
	return &NDArray{DType: a.DType, Shape: slices.Clone(a.Shape), Values: slices.Clone(a.Values)}
}

// Transpose permutes the axes. perm[i] names the source axis that becomes
// axis i.
func (a *NDArray) Transpose(perm ...int) (*NDArray, error) {
	if len(perm) != len(a.Shape) {
		return nil, udferr.Invalid("ndarray: permutation rank %d for array rank %d", len(perm), len(a.Shape))
	}
	seen := make([]bool, len(perm))
	shape := make([]int, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, udferr.Invalid("ndarray: invalid permutation %v", perm)
		}
		seen[p] = true
		shape[i] = a.Shape[p]
	}
	srcStrides := strides(a.Shape)
	out := &NDArray{DType: a.DType, Shape: shape, Values: make([]float64, len(a.Values))}
	idx := make([]int, len(shape))
	for o := range out.Values {
		src := 0
		for i, v := range idx {
			src += v * srcStrides[perm[i]]
		}
		out.Values[o] = a.Values[src]
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// Equal compares shape and values; NaN equals NaN.
func (a *NDArray) Equal(b *NDArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !slices.Equal(a.Shape, b.Shape) || len(a.Values) != len(b.Values) {
		return false
	}
	for i, v := range a.Values {
		w := b.Values[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

// Nested renders the values as nested []any in axis order. A rank-0 array
// renders as its scalar.
func (a *NDArray) Nested() any {
	return a.nested(func(f float64) any { return f })
}

// NestedJSON is Nested with non-finite values replaced by their JSON
// tokens.
func (a *NDArray) NestedJSON() any {
	return a.nested(codec.JSONFloat)
}

func (a *NDArray) nested(leaf func(float64) any) any {
	if len(a.Shape) == 0 {
		if len(a.Values) == 0 {
			return leaf(0)
		}
		return leaf(a.Values[0])
	}
	pos := 0
	return nest(a.Shape, a.Values, &pos, leaf)
}

func nest(shape []int, vals []float64, pos *int, leaf func(float64) any) []any {
	out := make([]any, shape[0])
	for i := range out {
		if len(shape) == 1 {
			out[i] = leaf(vals[*pos])
			*pos++
			continue
		}
		out[i] = nest(shape[1:], vals, pos, leaf)
	}
	return out
}

// FromNested infers the shape of a decoded nested sequence and flattens it.
// Ragged input is a validation error.
func FromNested(v any) (*NDArray, error) {
	return FromNestedShape(v, nil)
}

// FromNestedShape is FromNested for data whose rank is known. Nested empty
// sequences carry no extent for the axes below them, so when the inferred
// shape ends in 0 and is shorter than hint, the missing axes are appended
// from hint. Negative hint entries become 0.
func FromNestedShape(v any, hint []int) (*NDArray, error) {
	shape := inferShape(v)
	if n := len(shape); n > 0 && n < len(hint) && shape[n-1] == 0 {
		for _, h := range hint[n:] {
			shape = append(shape, max(h, 0))
		}
	}
	vals := make([]float64, 0, product(shape))
	if err := flatten(v, shape, 0, &vals); err != nil {
		return nil, err
	}
	return &NDArray{DType: Float64, Shape: shape, Values: vals}, nil
}

func inferShape(v any) []int {
	var shape []int
	for {
		arr, ok := v.([]any)
		if !ok {
			return shape
		}
		shape = append(shape, len(arr))
		if len(arr) == 0 {
			return shape
		}
		v = arr[0]
	}
}

func flatten(v any, shape []int, depth int, out *[]float64) error {
	if depth == len(shape) {
		f, err := codec.Float(v)
		if err != nil {
			return udferr.Invalid("ndarray: element at depth %d: %v", depth, err)
		}
		*out = append(*out, f)
		return nil
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != shape[depth] {
		return fmt.Errorf("ndarray: ragged nested data at depth %d (want length %d): %w",
			depth, shape[depth], udferr.ErrSizeMismatch)
	}
	for _, e := range arr {
		if err := flatten(e, shape, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
