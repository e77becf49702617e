package ndarray

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return v
}

func TestFromNested_ShapeAndOrder(t *testing.T) {
	a, err := FromNested(decode(t, `[[[1,2,3],[4,5,6]],[[7,8,9],[10,11,12]]]`))
	if err != nil {
		t.Fatalf("FromNested: %v", err)
	}
	if !reflect.DeepEqual(a.Shape, []int{2, 2, 3}) {
		t.Fatalf("shape=%v", a.Shape)
	}
	v, _ := a.At(1, 0, 2)
	if v != 9 {
		t.Fatalf("At(1,0,2)=%v want 9", v)
	}
	if !reflect.DeepEqual(a.Nested(), decode(t, `[[[1,2,3],[4,5,6]],[[7,8,9],[10,11,12]]]`)) {
		t.Fatalf("Nested does not reproduce input")
	}
}

func TestFromNested_Ragged(t *testing.T) {
	for _, s := range []string{`[[1,2],[3]]`, `[[1],2]`, `[1,[2]]`, `[[1,"x"]]`} {
		if _, err := FromNested(decode(t, s)); !udferr.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", s, err)
		}
	}
}

func TestFromNested_EmptyAndScalar(t *testing.T) {
	a, err := FromNested(decode(t, `[[],[]]`))
	if err != nil {
		t.Fatalf("FromNested: %v", err)
	}
	if !reflect.DeepEqual(a.Shape, []int{2, 0}) || a.Len() != 0 {
		t.Fatalf("shape=%v len=%d", a.Shape, a.Len())
	}
	s, err := FromNested(3.5)
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	if s.Rank() != 0 || s.Nested() != 3.5 {
		t.Fatalf("scalar roundtrip: rank=%d nested=%v", s.Rank(), s.Nested())
	}
}

func TestNew_SizeMismatch(t *testing.T) {
	if _, err := New(Float64, []int{2, 3}, make([]float64, 5)); !errors.Is(err, udferr.ErrSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}

func TestTranspose(t *testing.T) {
	a, _ := New(Float64, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	b, err := a.Transpose(1, 0)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if !reflect.DeepEqual(b.Shape, []int{3, 2}) || !reflect.DeepEqual(b.Values, []float64{1, 4, 2, 5, 3, 6}) {
		t.Fatalf("transpose got shape=%v values=%v", b.Shape, b.Values)
	}
	if _, err := a.Transpose(0, 0); err == nil {
		t.Fatalf("expected error for repeated axis")
	}
}

func TestDTypeCastAndParse(t *testing.T) {
	if Uint8.Cast(200.7) != 200 {
		t.Fatalf("uint8 truncation: %v", Uint8.Cast(200.7))
	}
	if Float32.Cast(0.1) == 0.1 {
		t.Fatalf("float32 cast should lose precision")
	}
	if Int32.Cast(2.9) != 2 {
		t.Fatalf("int32 truncation: %v", Int32.Cast(2.9))
	}
	if d, err := ParseDType(""); err != nil || d != Float64 {
		t.Fatalf("default dtype: %v %v", d, err)
	}
	if _, err := ParseDType("complex128"); err == nil {
		t.Fatalf("expected unsupported dtype")
	}
}

func TestFromNestedShape_EmptyInnerAxis(t *testing.T) {
	src := Zeros(2, 0, 3)
	a, err := FromNestedShape(decode(t, `[[],[]]`), []int{-1, -1, 3})
	if err != nil {
		t.Fatalf("FromNestedShape: %v", err)
	}
	if !a.Equal(src) {
		t.Fatalf("shape=%v want %v", a.Shape, src.Shape)
	}
	b, err := FromNestedShape(src.Nested(), []int{-1, -1, -1})
	if err != nil {
		t.Fatalf("FromNestedShape: %v", err)
	}
	if !reflect.DeepEqual(b.Shape, []int{2, 0, 0}) {
		t.Fatalf("unhinted shape=%v", b.Shape)
	}
	// a full array ignores the hint
	c, err := FromNestedShape(decode(t, `[[1,2]]`), []int{5, 5, 5})
	if err != nil || !reflect.DeepEqual(c.Shape, []int{1, 2}) {
		t.Fatalf("shape=%v err=%v", c.Shape, err)
	}
	if _, err := FromNestedShape(decode(t, `[[],[1]]`), []int{-1, -1, -1}); !udferr.IsValidation(err) {
		t.Fatalf("expected ragged error, got %v", err)
	}
}

func TestNestedJSON_NonFinite(t *testing.T) {
	a, _ := New(Float64, []int{1, 3}, []float64{math.NaN(), math.Inf(1), 1})
	b, err := json.Marshal(a.NestedJSON())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `[["NaN","Infinity",1]]` {
		t.Fatalf("got %s", b)
	}
	back, err := FromNested(decode(t, string(b)))
	if err != nil {
		t.Fatalf("FromNested: %v", err)
	}
	if !back.Equal(a) {
		t.Fatalf("roundtrip values %v", back.Values)
	}
	n, err := FromNested(decode(t, `[null, 2]`))
	if err != nil || !math.IsNaN(n.Values[0]) {
		t.Fatalf("null element: %v %v", n, err)
	}
}
