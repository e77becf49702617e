package hypercube

import (
	"fmt"

	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// DataCollection is a tabular description of gridded variables: a set of
// dimensions and flat, row-major value arrays over them.
type DataCollection struct {
	Name       string          `json:"name"`
	Dimensions []DimensionSpec `json:"dimensions"`
	Variables  []Variable      `json:"variables"`
}

// DimensionSpec gives either explicit coordinates or an extent split into
// Cells equal steps.
type DimensionSpec struct {
	Name        string       `json:"name"`
	Unit        string       `json:"unit,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Extent      *[2]float64  `json:"extent,omitempty"`
	Cells       int          `json:"number_of_cells,omitempty"`
}

type Variable struct {
	Name   string        `json:"name"`
	Unit   string        `json:"unit,omitempty"`
	DType  ndarray.DType `json:"dtype,omitempty"`
	Values []float64     `json:"values"`
}

// CellCenters places n coordinates at the centres of n equal cells over
// [lower, upper].
func CellCenters(lower, upper float64, n int) []float64 {
	step := (upper - lower) / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = lower + step/2 + float64(i)*step
	}
	return out
}

func (d DimensionSpec) coordinates() (*Coordinates, error) {
	switch {
	case d.Coordinates != nil:
		return d.Coordinates, nil
	case d.Extent != nil && d.Cells > 0:
		return NumericCoords(CellCenters(d.Extent[0], d.Extent[1], d.Cells)...), nil
	default:
		return nil, udferr.Invalid("dimension %q needs coordinates or an extent with number_of_cells", d.Name)
	}
}

// FromDataCollection builds one cube per variable, in variable order. Each
// cube is named after its variable and described by the variable's unit.
func FromDataCollection(coll DataCollection) ([]*HyperCube, error) {
	if len(coll.Dimensions) == 0 {
		return nil, udferr.Missing("data collection "+coll.Name, "dimensions")
	}
	dims := make([]Dimension, len(coll.Dimensions))
	shape := make([]int, len(coll.Dimensions))
	for i, spec := range coll.Dimensions {
		coords, err := spec.coordinates()
		if err != nil {
			return nil, fmt.Errorf("data collection %q: %w", coll.Name, err)
		}
		dims[i] = Dimension{Name: spec.Name, Coordinates: coords}
		shape[i] = coords.Len()
	}
	cubes := make([]*HyperCube, 0, len(coll.Variables))
	for _, v := range coll.Variables {
		dtype, err := ndarray.ParseDType(string(v.DType))
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		values := make([]float64, len(v.Values))
		for i, x := range v.Values {
			values[i] = dtype.Cast(x)
		}
		data, err := ndarray.New(dtype, shape, values)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		cube, err := New(v.Name, data, cloneDims(dims), v.Unit)
		if err != nil {
			return nil, err
		}
		cubes = append(cubes, cube)
	}
	return cubes, nil
}

func cloneDims(dims []Dimension) []Dimension {
	out := make([]Dimension, len(dims))
	copy(out, dims)
	return out
}
