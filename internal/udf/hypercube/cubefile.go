package hypercube

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/compress"
	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

var cubeMagic = [4]byte{'U', 'D', 'F', 'C'}

// labelDType marks a text coordinate array in the file.
const labelDType = "str"

type fileAttrs struct {
	DType string `cbor:"dtype"`
	Shape []int  `cbor:"shape"`
}

type fileArray struct {
	Data   []byte    `cbor:"data,omitempty"`
	Labels []string  `cbor:"labels,omitempty"`
	Attrs  fileAttrs `cbor:"attrs"`
}

type fileDoc struct {
	Name        string               `cbor:"name"`
	Description string               `cbor:"description,omitempty"`
	Data        fileArray            `cbor:"data"`
	Dims        []string             `cbor:"dims"`
	Coords      map[string]fileArray `cbor:"coords,omitempty"`
}

// EncodeFile serialises the cube into the self-describing cube file format.
// Every array carries its dtype and shape so decoding restores both exactly.
func EncodeFile(h *HyperCube, tag compress.Tag) ([]byte, error) {
	doc := fileDoc{
		Name:        h.ID,
		Description: h.Description,
		Data:        packArray(h.Data.DType, h.Data.Shape, h.Data.Values),
		Dims:        h.DimNames(),
	}
	for _, d := range h.Dims {
		if d.Coordinates == nil {
			continue
		}
		if doc.Coords == nil {
			doc.Coords = make(map[string]fileArray)
		}
		c := d.Coordinates
		if c.IsLabels() {
			doc.Coords[d.Name] = fileArray{
				Labels: c.Labels,
				Attrs:  fileAttrs{DType: labelDType, Shape: []int{len(c.Labels)}},
			}
			continue
		}
		doc.Coords[d.Name] = packArray(c.DType, []int{len(c.Values)}, c.Values)
	}
	payload, err := codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cube %q: %w", h.ID, err)
	}
	return compress.Frame(cubeMagic, payload, tag)
}

func DecodeFile(b []byte) (*HyperCube, error) {
	payload, _, err := compress.Unframe(cubeMagic, b)
	if err != nil {
		return nil, udferr.Invalid("cube file: %v", err)
	}
	var doc fileDoc
	if err := codec.Unmarshal(payload, &doc); err != nil {
		return nil, udferr.Invalid("cube file: %v", err)
	}
	data, err := unpackArray(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("cube file %q data: %w", doc.Name, err)
	}
	dims := make([]Dimension, len(doc.Dims))
	for i, name := range doc.Dims {
		dims[i].Name = name
		fa, ok := doc.Coords[name]
		if !ok {
			continue
		}
		if fa.Attrs.DType == labelDType {
			dims[i].Coordinates = LabelCoords(fa.Labels...)
			continue
		}
		arr, err := unpackArray(fa)
		if err != nil {
			return nil, fmt.Errorf("cube file %q coords %q: %w", doc.Name, name, err)
		}
		dims[i].Coordinates = &Coordinates{DType: arr.DType, Values: arr.Values}
	}
	return New(doc.Name, data, dims, doc.Description)
}

func WriteFile(path string, h *HyperCube, tag compress.Tag) error {
	b, err := EncodeFile(h, tag)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func ReadFile(path string) (*HyperCube, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeFile(b)
}

func packArray(dtype ndarray.DType, shape []int, values []float64) fileArray {
	if dtype == "" {
		dtype = ndarray.Float64
	}
	size := dtype.Size()
	buf := make([]byte, len(values)*size)
	for i, v := range values {
		p := buf[i*size:]
		switch dtype {
		case ndarray.Float32:
			binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
		case ndarray.Int64:
			binary.LittleEndian.PutUint64(p, uint64(int64(v)))
		case ndarray.Int32:
			binary.LittleEndian.PutUint32(p, uint32(int32(v)))
		case ndarray.Int16:
			binary.LittleEndian.PutUint16(p, uint16(int16(v)))
		case ndarray.Uint16:
			binary.LittleEndian.PutUint16(p, uint16(v))
		case ndarray.Uint8:
			p[0] = uint8(v)
		default:
			binary.LittleEndian.PutUint64(p, math.Float64bits(v))
		}
	}
	return fileArray{Data: buf, Attrs: fileAttrs{DType: string(dtype), Shape: shape}}
}

func unpackArray(fa fileArray) (*ndarray.NDArray, error) {
	dtype, err := ndarray.ParseDType(fa.Attrs.DType)
	if err != nil {
		return nil, err
	}
	size := dtype.Size()
	if len(fa.Data)%size != 0 {
		return nil, udferr.Invalid("%d bytes is not a whole number of %s values", len(fa.Data), dtype)
	}
	values := make([]float64, len(fa.Data)/size)
	for i := range values {
		p := fa.Data[i*size:]
		switch dtype {
		case ndarray.Float32:
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
		case ndarray.Int64:
			values[i] = float64(int64(binary.LittleEndian.Uint64(p)))
		case ndarray.Int32:
			values[i] = float64(int32(binary.LittleEndian.Uint32(p)))
		case ndarray.Int16:
			values[i] = float64(int16(binary.LittleEndian.Uint16(p)))
		case ndarray.Uint16:
			values[i] = float64(binary.LittleEndian.Uint16(p))
		case ndarray.Uint8:
			values[i] = float64(p[0])
		default:
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(p))
		}
	}
	return ndarray.New(dtype, fa.Attrs.Shape, values)
}
