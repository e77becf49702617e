package tile

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udf/extent"
	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// RasterCollectionTile is a [t][y][x] scalar array over a required extent.
type RasterCollectionTile struct {
	Base

	data       *ndarray.NDArray
	wavelength *float64
}

// NewRaster validates rank, extent and time-vector lengths. WithExtent is
// ignored; the extent argument is authoritative.
func NewRaster(id string, data *ndarray.NDArray, ext *extent.SpatialExtent, opts ...Option) (*RasterCollectionTile, error) {
	r := &RasterCollectionTile{Base: Base{ID: id}}
	for _, o := range opts {
		o(&r.Base)
	}
	if ext == nil {
		return nil, fmt.Errorf("raster tile %q: %w", id, udferr.Missing("raster tile", "extent"))
	}
	r.extent = ext
	if err := checkRank(data); err != nil {
		return nil, fmt.Errorf("raster tile %q: %w", id, err)
	}
	r.data = data
	if err := r.CheckDataWithTime(true, data.Leading()); err != nil {
		return nil, fmt.Errorf("raster tile %q: %w", id, err)
	}
	return r, nil
}

func checkRank(data *ndarray.NDArray) error {
	if data == nil {
		return udferr.Missing("raster tile", "data")
	}
	if data.Rank() != 3 {
		return udferr.Invalid("raster data must have rank 3 [t][y][x], got shape %v", data.Shape)
	}
	return nil
}

func (r *RasterCollectionTile) Data() *ndarray.NDArray { return r.data }

// Wavelength returns the wavelength tag and whether it is set.
func (r *RasterCollectionTile) Wavelength() (float64, bool) {
	if r.wavelength == nil {
		return 0, false
	}
	return *r.wavelength, true
}

// SetData replaces the array after checking it against the time vectors.
func (r *RasterCollectionTile) SetData(data *ndarray.NDArray) error {
	if err := checkRank(data); err != nil {
		return fmt.Errorf("raster tile %q: %w", r.ID, err)
	}
	if err := checkTimes(true, data.Leading(), r.startTimes, r.endTimes); err != nil {
		return fmt.Errorf("raster tile %q: %w", r.ID, err)
	}
	r.data = data
	return nil
}

func (r *RasterCollectionTile) SetStartTimes(ts []Timestamp) error {
	if err := checkTimes(true, r.data.Leading(), ts, nil); err != nil {
		return fmt.Errorf("raster tile %q: %w", r.ID, err)
	}
	r.startTimes = cloneTimes(ts)
	return nil
}

func (r *RasterCollectionTile) SetEndTimes(ts []Timestamp) error {
	if err := checkTimes(true, r.data.Leading(), nil, ts); err != nil {
		return fmt.Errorf("raster tile %q: %w", r.ID, err)
	}
	r.endTimes = cloneTimes(ts)
	return nil
}

func (r *RasterCollectionTile) SetWavelength(w *float64) {
	if w == nil {
		r.wavelength = nil
		return
	}
	v := *w
	r.wavelength = &v
}

// Sample returns one value per time slice at (top, left), or ok=false when
// the point is outside the extent.
func (r *RasterCollectionTile) Sample(top, left float64) (values []float64, ok bool, err error) {
	if !r.extent.ContainsPoint(top, left) {
		return nil, false, nil
	}
	x, y, err := r.extent.ToIndex(top, left)
	if err != nil {
		return nil, false, fmt.Errorf("raster tile %q: sample: %w", r.ID, err)
	}
	ny, nx := r.data.Shape[1], r.data.Shape[2]
	if x >= nx || y >= ny {
		return nil, false, fmt.Errorf("raster tile %q: pixel (%d,%d) outside array %dx%d: %w",
			r.ID, x, y, nx, ny, udferr.ErrDomain)
	}
	values = make([]float64, r.data.Shape[0])
	for t := range values {
		values[t] = r.data.Values[(t*ny+y)*nx+x]
	}
	return values, true, nil
}

// Equal compares every serialised field.
func (r *RasterCollectionTile) Equal(o *RasterCollectionTile) bool {
	if r == nil || o == nil {
		return r == o
	}
	wr, okr := r.Wavelength()
	wo, oko := o.Wavelength()
	return r.ID == o.ID && okr == oko && wr == wo &&
		r.extent.Equal(o.extent) && r.data.Equal(o.data) &&
		equalTimes(r.startTimes, o.startTimes) && equalTimes(r.endTimes, o.endTimes)
}

type rasterWire struct {
	ID         *string               `json:"id"`
	Data       any                   `json:"data"`
	Wavelength *float64              `json:"wavelength,omitempty"`
	StartTimes *[]Timestamp          `json:"start_times,omitempty"`
	EndTimes   *[]Timestamp          `json:"end_times,omitempty"`
	Extent     *extent.SpatialExtent `json:"extent"`
}

func (r *RasterCollectionTile) toWire(jsonSafe bool) rasterWire {
	id := r.ID
	data := r.data.Nested()
	if jsonSafe {
		data = r.data.NestedJSON()
	}
	return rasterWire{
		ID:         &id,
		Data:       data,
		Wavelength: r.wavelength,
		StartTimes: timesPtr(r.startTimes),
		EndTimes:   timesPtr(r.endTimes),
		Extent:     r.extent,
	}
}

func rasterFromWire(w rasterWire) (*RasterCollectionTile, error) {
	if w.ID == nil {
		return nil, udferr.Missing("raster tile", "id")
	}
	if w.Data == nil {
		return nil, fmt.Errorf("raster tile %q: %w", *w.ID, udferr.Missing("raster tile", "data"))
	}
	data, err := ndarray.FromNestedShape(w.Data, gridShape(w.Extent))
	if err != nil {
		return nil, fmt.Errorf("raster tile %q: %w", *w.ID, err)
	}
	r, err := NewRaster(*w.ID, data, w.Extent,
		WithStartTimes(timesVal(w.StartTimes)),
		WithEndTimes(timesVal(w.EndTimes)),
	)
	if err != nil {
		return nil, err
	}
	r.SetWavelength(w.Wavelength)
	return r, nil
}

// gridShape is the [t][y][x] hint for empty rasters: the time axis is
// unknown and y, x come from the extent's cell grid when it divides evenly.
func gridShape(e *extent.SpatialExtent) []int {
	hint := []int{-1, -1, -1}
	if e == nil {
		return hint
	}
	hint[1] = cells(e.Top()-e.Bottom(), e.Height())
	hint[2] = cells(e.Right()-e.Left(), e.Width())
	return hint
}

func cells(span, res float64) int {
	if res <= 0 {
		return -1
	}
	n := math.Round(span / res)
	if math.Abs(span/res-n) > 1e-9 {
		return -1
	}
	return int(n)
}

func (r *RasterCollectionTile) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire(true))
}

func (r *RasterCollectionTile) UnmarshalJSON(b []byte) error {
	var w rasterWire
	if err := json.Unmarshal(codec.QuoteNonFinite(b), &w); err != nil {
		return fmt.Errorf("raster tile: %w", err)
	}
	out, err := rasterFromWire(w)
	if err != nil {
		return err
	}
	*r = *out
	return nil
}

func (r *RasterCollectionTile) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(r.toWire(false))
}

func (r *RasterCollectionTile) UnmarshalCBOR(b []byte) error {
	var w rasterWire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("raster tile: %w", err)
	}
	out, err := rasterFromWire(w)
	if err != nil {
		return err
	}
	*r = *out
	return nil
}
