// Package extent implements the axis-aligned geographic rectangle that bounds
// raster tiles, with optional cell resolution for pixel indexing.
package extent

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// SpatialExtent is immutable after construction. Width and height are the
// cell resolution; zero means unset.
type SpatialExtent struct {
	top, bottom, right, left float64
	width, height            float64

	poly *geom.Polygon
}

// New validates the borders and caches the polygon.
func New(top, bottom, right, left, height, width float64) (*SpatialExtent, error) {
	for name, v := range map[string]float64{
		"top": top, "bottom": bottom, "right": right, "left": left,
		"height": height, "width": width,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, udferr.Invalid("extent: %s must be finite", name)
		}
	}
	if top < bottom {
		return nil, udferr.Invalid("extent: top %v below bottom %v", top, bottom)
	}
	if right < left {
		return nil, udferr.Invalid("extent: right %v left of left %v", right, left)
	}
	if width < 0 || height < 0 {
		return nil, udferr.Invalid("extent: negative resolution (width=%v height=%v)", width, height)
	}
	e := &SpatialExtent{
		top: top, bottom: bottom, right: right, left: left,
		width: width, height: height,
	}
	e.poly = geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{left, top}, {right, top}, {right, bottom}, {left, bottom}, {left, top},
	}})
	return e, nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew(top, bottom, right, left, height, width float64) *SpatialExtent {
	e, err := New(top, bottom, right, left, height, width)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *SpatialExtent) Top() float64    { return e.top }
func (e *SpatialExtent) Bottom() float64 { return e.bottom }
func (e *SpatialExtent) Right() float64  { return e.right }
func (e *SpatialExtent) Left() float64   { return e.left }
func (e *SpatialExtent) Width() float64  { return e.width }
func (e *SpatialExtent) Height() float64 { return e.height }

// AsPolygon returns the closed ring (left,top) → (right,top) → (right,bottom)
// → (left,bottom) → (left,top). The polygon is shared; callers must not
// mutate it.
func (e *SpatialExtent) AsPolygon() *geom.Polygon { return e.poly }

// ContainsPoint reports whether (top, left) lies inside the extent. The top
// and left edges are inside, the bottom and right edges are outside, so
// adjacent tiles never both claim a point.
func (e *SpatialExtent) ContainsPoint(top, left float64) bool {
	return left >= e.left && left < e.right && top > e.bottom && top <= e.top
}

// ToIndex converts a point to a zero-based (x, y) cell index with origin at
// (left, top). It does not check containment.
func (e *SpatialExtent) ToIndex(top, left float64) (x, y int, err error) {
	if e.width == 0 || e.height == 0 {
		return 0, 0, fmt.Errorf("extent: to index needs width and height (width=%v height=%v): %w",
			e.width, e.height, udferr.ErrDomain)
	}
	x = int(math.Floor(math.Abs(left-e.left) / e.width))
	y = int(math.Floor(math.Abs(top-e.top) / e.height))
	return x, y, nil
}

// Cells returns the sorted, unique H3 cells whose centres fall inside the
// extent at resolution res.
func (e *SpatialExtent) Cells(res int) ([]string, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15): %w", res, udferr.ErrDomain)
	}
	loop := h3.GeoLoop{
		{Lat: e.top, Lng: e.left},
		{Lat: e.top, Lng: e.right},
		{Lat: e.bottom, Lng: e.right},
		{Lat: e.bottom, Lng: e.left},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	out := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Equal compares borders and resolution.
func (e *SpatialExtent) Equal(o *SpatialExtent) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.top == o.top && e.bottom == o.bottom && e.right == o.right &&
		e.left == o.left && e.width == o.width && e.height == o.height
}

func (e *SpatialExtent) String() string {
	return fmt.Sprintf("extent(top=%g bottom=%g right=%g left=%g height=%g width=%g)",
		e.top, e.bottom, e.right, e.left, e.height, e.width)
}

// wire omits width and height when they are zero.
type wire struct {
	Top    *float64 `json:"top"`
	Bottom *float64 `json:"bottom"`
	Right  *float64 `json:"right"`
	Left   *float64 `json:"left"`
	Width  float64  `json:"width,omitempty"`
	Height float64  `json:"height,omitempty"`
}

func (e *SpatialExtent) toWire() wire {
	return wire{
		Top: &e.top, Bottom: &e.bottom, Right: &e.right, Left: &e.left,
		Width: e.width, Height: e.height,
	}
}

func fromWire(w wire) (*SpatialExtent, error) {
	switch {
	case w.Top == nil:
		return nil, udferr.Missing("extent", "top")
	case w.Bottom == nil:
		return nil, udferr.Missing("extent", "bottom")
	case w.Right == nil:
		return nil, udferr.Missing("extent", "right")
	case w.Left == nil:
		return nil, udferr.Missing("extent", "left")
	}
	return New(*w.Top, *w.Bottom, *w.Right, *w.Left, w.Height, w.Width)
}

func (e *SpatialExtent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWire())
}

func (e *SpatialExtent) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("extent: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*e = *out
	return nil
}

func (e *SpatialExtent) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(e.toWire())
}

func (e *SpatialExtent) UnmarshalCBOR(b []byte) error {
	var w wire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("extent: %w", err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*e = *out
	return nil
}
