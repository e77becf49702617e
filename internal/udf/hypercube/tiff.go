package hypercube

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sort"

	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagImageDesc       = 270
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922

	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12

	sampleFormatFloat = 3
	planarSeparate    = 2
)

var (
	yNames = []string{"y", "lat", "latitude", "row", "rows"}
	xNames = []string{"x", "lon", "long", "longitude", "col", "cols"}
)

// rasterMeta travels in ImageDescription so a reader can restore the cube.
type rasterMeta struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Dims        []string                `json:"dims"`
	Bands       []string                `json:"bands"`
	Coords      map[string]*Coordinates `json:"coords,omitempty"`
}

// BandLabels names each band after the leading axis coordinates, or
// band_<i> when the axis has none.
func BandLabels(h *HyperCube) []string {
	if h.Data.Rank() == 2 {
		return []string{"band_0"}
	}
	n := h.Data.Shape[0]
	out := make([]string, n)
	c := h.Dims[0].Coordinates
	for i := range out {
		if c != nil {
			out[i] = c.Label(i)
		} else {
			out[i] = fmt.Sprintf("band_%d", i)
		}
	}
	return out
}

// canonical returns the cube with its two trailing axes ordered (y, x).
// Axes whose names are not recognised are taken to already be (y, x).
func canonical(h *HyperCube) (*HyperCube, error) {
	r := h.Data.Rank()
	if r != 2 && r != 3 {
		return nil, udferr.Invalid("hypercube %q: raster export needs rank 2 or 3, got %d", h.ID, r)
	}
	a, b := h.Dims[r-2].Name, h.Dims[r-1].Name
	if !slices.Contains(xNames, a) || !slices.Contains(yNames, b) {
		return h, nil
	}
	names := h.DimNames()
	names[r-2], names[r-1] = b, a
	return h.Transpose(names...)
}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: b}
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: b}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

// WriteRaster writes a little-endian TIFF with float64 samples, one band
// per leading axis index stored as a separate plane. Numeric y/x
// coordinates are also written as GeoTIFF pixel scale and tiepoint.
func WriteRaster(w io.Writer, h *HyperCube) error {
	c, err := canonical(h)
	if err != nil {
		return err
	}
	r := c.Data.Rank()
	height, width := c.Data.Shape[r-2], c.Data.Shape[r-1]
	bands := 1
	if r == 3 {
		bands = c.Data.Shape[0]
	}
	if height == 0 || width == 0 || bands == 0 {
		return udferr.Invalid("hypercube %q: empty raster %v", c.ID, c.Data.Shape)
	}
	meta := rasterMeta{Name: c.ID, Description: c.Description, Dims: c.DimNames(), Bands: BandLabels(c)}
	for _, d := range c.Dims {
		if d.Coordinates != nil {
			if meta.Coords == nil {
				meta.Coords = make(map[string]*Coordinates)
			}
			meta.Coords[d.Name] = d.Coordinates
		}
	}
	desc, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	planeBytes := height * width * 8
	offsets := make([]uint32, bands)
	counts := make([]uint32, bands)
	for i := range offsets {
		offsets[i] = uint32(8 + i*planeBytes)
		counts[i] = uint32(planeBytes)
	}
	bits := make([]uint16, bands)
	formats := make([]uint16, bands)
	for i := range bits {
		bits[i] = 64
		formats[i] = sampleFormatFloat
	}
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(width)),
		longEntry(tagImageLength, uint32(height)),
		shortEntry(tagBitsPerSample, bits...),
		shortEntry(tagCompression, 1),
		shortEntry(tagPhotometric, 1),
		asciiEntry(tagImageDesc, string(desc)),
		longEntry(tagStripOffsets, offsets...),
		shortEntry(tagSamplesPerPixel, uint16(bands)),
		longEntry(tagRowsPerStrip, uint32(height)),
		longEntry(tagStripByteCounts, counts...),
		shortEntry(tagPlanarConfig, planarSeparate),
		shortEntry(tagSampleFormat, formats...),
	}
	if sx, sy, tx, ty, ok := geoTransform(c); ok {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, sx, sy, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, tx, ty, 0),
		)
	}

	sortEntries(entries)

	var buf bytes.Buffer
	ifdOffset := 8 + bands*planeBytes
	buf.WriteString("II")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(42))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(ifdOffset))
	var sample [8]byte
	for _, v := range c.Data.Values {
		binary.LittleEndian.PutUint64(sample[:], math.Float64bits(v))
		buf.Write(sample[:])
	}

	extra := ifdOffset + 2 + len(entries)*12 + 4
	var tail bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&buf, binary.LittleEndian, e.tag)
		_ = binary.Write(&buf, binary.LittleEndian, e.typ)
		_ = binary.Write(&buf, binary.LittleEndian, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
			continue
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(extra+tail.Len()))
		tail.Write(e.data)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(tail.Bytes())
	_, err = w.Write(buf.Bytes())
	return err
}

// geoTransform derives pixel size and the top-left corner from numeric
// cell-centre coordinates on the trailing axes of a north-up grid.
func geoTransform(c *HyperCube) (sx, sy, tx, ty float64, ok bool) {
	r := len(c.Dims)
	yc, xc := c.Dims[r-2].Coordinates, c.Dims[r-1].Coordinates
	if yc == nil || xc == nil || yc.IsLabels() || xc.IsLabels() || yc.Len() < 2 || xc.Len() < 2 {
		return 0, 0, 0, 0, false
	}
	sx = xc.Values[1] - xc.Values[0]
	sy = yc.Values[0] - yc.Values[1]
	if sx <= 0 || sy <= 0 {
		return 0, 0, 0, 0, false
	}
	return sx, sy, xc.Values[0] - sx/2, yc.Values[0] + sy/2, true
}

func WriteRasterFile(path string, h *HyperCube) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRaster(f, h); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadRasterFile(path string) (*HyperCube, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadRaster(b)
}

type ifd map[uint16]ifdEntry

func (d ifd) uints(tag uint16) []uint32 {
	e, ok := d[tag]
	if !ok {
		return nil
	}
	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case typeShort:
			out[i] = uint32(binary.LittleEndian.Uint16(e.data[2*i:]))
		case typeLong:
			out[i] = binary.LittleEndian.Uint32(e.data[4*i:])
		default:
			return nil
		}
	}
	return out
}

func (d ifd) uint1(tag uint16, def uint32) uint32 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d ifd) doubles(tag uint16) []float64 {
	e, ok := d[tag]
	if !ok || e.typ != typeDouble {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(e.data[8*i:]))
	}
	return out
}

var typeSizes = map[uint16]int{1: 1, typeASCII: 1, typeShort: 2, typeLong: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, typeDouble: 8}

func parseIFD(b []byte) (ifd, error) {
	if len(b) < 8 || string(b[:2]) != "II" || binary.LittleEndian.Uint16(b[2:]) != 42 {
		return nil, udferr.Invalid("raster file: not a little-endian TIFF")
	}
	off := int(binary.LittleEndian.Uint32(b[4:]))
	if off+2 > len(b) {
		return nil, udferr.Invalid("raster file: IFD offset %d out of range", off)
	}
	n := int(binary.LittleEndian.Uint16(b[off:]))
	if off+2+n*12 > len(b) {
		return nil, udferr.Invalid("raster file: truncated IFD")
	}
	out := make(ifd, n)
	for i := range n {
		p := b[off+2+i*12:]
		e := ifdEntry{
			tag:   binary.LittleEndian.Uint16(p),
			typ:   binary.LittleEndian.Uint16(p[2:]),
			count: binary.LittleEndian.Uint32(p[4:]),
		}
		size := typeSizes[e.typ] * int(e.count)
		if size <= 4 {
			e.data = p[8 : 8+size]
		} else {
			at := int(binary.LittleEndian.Uint32(p[8:]))
			if at+size > len(b) {
				return nil, udferr.Invalid("raster file: tag %d data out of range", e.tag)
			}
			e.data = b[at : at+size]
		}
		out[e.tag] = e
	}
	return out, nil
}

// ReadRaster restores a cube written by WriteRaster. Plain float64 TIFFs
// without our metadata come back with dims (band, y, x).
func ReadRaster(b []byte) (*HyperCube, error) {
	d, err := parseIFD(b)
	if err != nil {
		return nil, err
	}
	width := int(d.uint1(tagImageWidth, 0))
	height := int(d.uint1(tagImageLength, 0))
	bands := int(d.uint1(tagSamplesPerPixel, 1))
	if width == 0 || height == 0 {
		return nil, udferr.Invalid("raster file: missing image dimensions")
	}
	if c := d.uint1(tagCompression, 1); c != 1 {
		return nil, udferr.Invalid("raster file: compression %d not supported", c)
	}
	for _, bps := range d.uints(tagBitsPerSample) {
		if bps != 64 {
			return nil, udferr.Invalid("raster file: %d-bit samples not supported", bps)
		}
	}
	if f := d.uint1(tagSampleFormat, 1); f != sampleFormatFloat {
		return nil, udferr.Invalid("raster file: sample format %d not supported", f)
	}
	if bands > 1 && d.uint1(tagPlanarConfig, 1) != planarSeparate {
		return nil, udferr.Invalid("raster file: interleaved bands not supported")
	}

	offsets, counts := d.uints(tagStripOffsets), d.uints(tagStripByteCounts)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, udferr.Invalid("raster file: bad strip table")
	}
	var raw []byte
	for i, o := range offsets {
		end := int(o) + int(counts[i])
		if end > len(b) {
			return nil, udferr.Invalid("raster file: strip %d out of range", i)
		}
		raw = append(raw, b[o:end]...)
	}
	n := bands * height * width
	if len(raw) != n*8 {
		return nil, fmt.Errorf("raster file: %d bytes of samples for %d values: %w", len(raw), n, udferr.ErrSizeMismatch)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}

	var meta rasterMeta
	if e, ok := d[tagImageDesc]; ok {
		text := bytes.TrimRight(e.data, "\x00")
		if err := json.Unmarshal(text, &meta); err != nil {
			meta = rasterMeta{}
		}
	}
	shape := []int{bands, height, width}
	if len(meta.Dims) == 2 && bands == 1 {
		shape = shape[1:]
	}
	if len(meta.Dims) != len(shape) {
		meta.Dims = []string{"band", "y", "x"}[3-len(shape):]
		meta.Coords = nil
	}
	data, err := ndarray.New(ndarray.Float64, shape, values)
	if err != nil {
		return nil, err
	}
	dims := make([]Dimension, len(shape))
	for i, name := range meta.Dims {
		dims[i] = Dimension{Name: name, Coordinates: meta.Coords[name]}
	}
	if scale, tie := d.doubles(tagModelPixelScale), d.doubles(tagModelTiepoint); len(scale) >= 2 && len(tie) >= 6 {
		r := len(dims)
		if dims[r-1].Coordinates == nil {
			dims[r-1].Coordinates = NumericCoords(steps(tie[3]+scale[0]/2, scale[0], width)...)
		}
		if dims[r-2].Coordinates == nil {
			dims[r-2].Coordinates = NumericCoords(steps(tie[4]-scale[1]/2, -scale[1], height)...)
		}
	}
	return New(meta.Name, data, dims, meta.Description)
}

func steps(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// sortEntries keeps IFD tags ascending as TIFF requires.
func sortEntries(es []ifdEntry) {
	sort.Slice(es, func(i, j int) bool { return es[i].tag < es[j].tag })
}
