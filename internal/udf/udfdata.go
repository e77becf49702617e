// Package udf aggregates the artifacts handed to a user-defined function:
// raster and feature tiles, hypercubes, structured results and model
// references, plus the opaque projection and context maps.
//
// A Data value belongs to one invocation and is not safe for concurrent use.
package udf

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udf/hypercube"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/internal/udf/structured"
	"github.com/mohammed-shakir/geo-udf/internal/udf/tile"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

type Data struct {
	proj          map[string]any
	userContext   map[string]any
	serverContext map[string]any

	rasters    indexed[*tile.RasterCollectionTile, rasterKey]
	cubes      indexed[*hypercube.HyperCube, cubeKey]
	features   indexed[*tile.FeatureCollectionTile, featureKey]
	structured indexed[*structured.StructuredData, structuredKey]
	models     indexed[*mlmodel.Ref, modelKey]
}

// New returns an empty parcel with the given projection. A nil proj is
// stored as an empty map. The zero Data is an empty parcel too.
func New(proj map[string]any) *Data {
	d := &Data{}
	d.SetProj(proj)
	return d
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (d *Data) Proj() map[string]any { return orEmpty(d.proj) }
func (d *Data) SetProj(m map[string]any) { d.proj = orEmpty(m) }
func (d *Data) UserContext() map[string]any { return orEmpty(d.userContext) }
func (d *Data) SetUserContext(m map[string]any) { d.userContext = maps.Clone(m) }
func (d *Data) ServerContext() map[string]any { return orEmpty(d.serverContext) }
func (d *Data) SetServerContext(m map[string]any) { d.serverContext = maps.Clone(m) }

// Raster tiles.

func (d *Data) AppendRasterTile(t *tile.RasterCollectionTile) { d.rasters.append(t) }
func (d *Data) RasterTiles() []*tile.RasterCollectionTile { return d.rasters.items() }
func (d *Data) SetRasterTiles(ts []*tile.RasterCollectionTile) {
	d.rasters.set(ts)
}
func (d *Data) DelRasterTiles() { d.rasters.clear() }
func (d *Data) RasterTileByID(id string) (*tile.RasterCollectionTile, bool) {
	return d.rasters.get(id)
}

// Hypercubes.

func (d *Data) AppendHyperCube(h *hypercube.HyperCube) { d.cubes.append(h) }
func (d *Data) HyperCubes() []*hypercube.HyperCube { return d.cubes.items() }
func (d *Data) SetHyperCubes(hs []*hypercube.HyperCube) { d.cubes.set(hs) }
func (d *Data) DelHyperCubes() { d.cubes.clear() }
func (d *Data) HyperCubeByID(id string) (*hypercube.HyperCube, bool) {
	return d.cubes.get(id)
}

// Feature tiles.

func (d *Data) AppendFeatureTile(t *tile.FeatureCollectionTile) { d.features.append(t) }
func (d *Data) FeatureTiles() []*tile.FeatureCollectionTile { return d.features.items() }
func (d *Data) SetFeatureTiles(ts []*tile.FeatureCollectionTile) {
	d.features.set(ts)
}
func (d *Data) DelFeatureTiles() { d.features.clear() }
func (d *Data) FeatureTileByID(id string) (*tile.FeatureCollectionTile, bool) {
	return d.features.get(id)
}

// Structured data, looked up by description.

func (d *Data) AppendStructuredData(s *structured.StructuredData) { d.structured.append(s) }
func (d *Data) StructuredData() []*structured.StructuredData { return d.structured.items() }
func (d *Data) SetStructuredData(ss []*structured.StructuredData) {
	d.structured.set(ss)
}
func (d *Data) DelStructuredData() { d.structured.clear() }
func (d *Data) StructuredDataByID(description string) (*structured.StructuredData, bool) {
	return d.structured.get(description)
}

// Model references, looked up by name.

func (d *Data) AppendModel(r *mlmodel.Ref) { d.models.append(r) }
func (d *Data) Models() []*mlmodel.Ref { return d.models.items() }
func (d *Data) SetModels(rs []*mlmodel.Ref) {
	d.models.set(rs)
}
func (d *Data) DelModels() { d.models.clear() }
func (d *Data) ModelByID(name string) (*mlmodel.Ref, bool) {
	return d.models.get(name)
}

// LoadModels loads every referenced model in list order and stops at the
// first failure.
func (d *Data) LoadModels(ctx context.Context, l *mlmodel.Loader) ([]*mlmodel.Model, error) {
	refs := d.models.items()
	out := make([]*mlmodel.Model, 0, len(refs))
	for _, r := range refs {
		m, err := l.Load(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("load model %q: %w", r.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// TileCells maps each raster tile id to the H3 cells its extent covers at
// resolution res. Tiles without an extent are skipped.
func (d *Data) TileCells(res int) (map[string][]string, error) {
	out := make(map[string][]string, len(d.rasters.list))
	for _, t := range d.rasters.list {
		ext := t.Extent()
		if ext == nil {
			continue
		}
		cells, err := ext.Cells(res)
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", t.ID, err)
		}
		out[t.ID] = cells
	}
	return out, nil
}

type wire struct {
	Proj          *map[string]any               `json:"proj"`
	UserContext   map[string]any                `json:"user_context"`
	ServerContext map[string]any                `json:"server_context"`
	RasterTiles   []*tile.RasterCollectionTile  `json:"raster_collection_tiles"`
	HyperCubes    []*hypercube.HyperCube        `json:"hypercubes"`
	FeatureTiles  []*tile.FeatureCollectionTile `json:"feature_collection_tiles"`
	Structured    []*structured.StructuredData  `json:"structured_data_list"`
	Models        []*mlmodel.Ref                `json:"machine_learn_models"`
}

func (d *Data) toWire() wire {
	proj := orEmpty(d.proj)
	return wire{
		Proj:          &proj,
		UserContext:   d.UserContext(),
		ServerContext: d.ServerContext(),
		RasterTiles:   d.rasters.items(),
		HyperCubes:    d.cubes.items(),
		FeatureTiles:  d.features.items(),
		Structured:    d.structured.items(),
		Models:        d.models.items(),
	}
}

func noNil[T any](field string, vs []*T) error {
	for i, v := range vs {
		if v == nil {
			return udferr.Invalid("udf data: %s[%d] is null", field, i)
		}
	}
	return nil
}

func fromWire(w wire) (*Data, error) {
	if w.Proj == nil {
		return nil, udferr.Missing("udf data", "proj")
	}
	if err := firstErr(
		noNil("raster_collection_tiles", w.RasterTiles),
		noNil("hypercubes", w.HyperCubes),
		noNil("feature_collection_tiles", w.FeatureTiles),
		noNil("structured_data_list", w.Structured),
		noNil("machine_learn_models", w.Models),
	); err != nil {
		return nil, err
	}
	d := New(*w.Proj)
	d.userContext = w.UserContext
	d.serverContext = w.ServerContext
	d.SetRasterTiles(w.RasterTiles)
	d.SetHyperCubes(w.HyperCubes)
	d.SetFeatureTiles(w.FeatureTiles)
	d.SetStructuredData(w.Structured)
	d.SetModels(w.Models)
	return d, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.toWire())
}

// UnmarshalJSON requires proj; every other key defaults to empty. Element
// errors come back with their own class. Numbers in the opaque maps stay
// json.Number so they re-encode exactly.
func (d *Data) UnmarshalJSON(b []byte) error {
	var w wire
	if err := codec.DecodeJSON(b, &w); err != nil {
		return wrapDecode(err)
	}
	out, err := fromWire(w)
	if err != nil {
		return err
	}
	*d = *out
	return nil
}

// EncodeCBOR writes the same shape as MarshalJSON in deterministic CBOR.
// json.Number values in the opaque maps become CBOR integers or floats.
func (d *Data) EncodeCBOR() ([]byte, error) {
	w := d.toWire()
	proj := plainMap(*w.Proj)
	w.Proj = &proj
	w.UserContext = plainMap(w.UserContext)
	w.ServerContext = plainMap(w.ServerContext)
	return codec.Marshal(w)
}

func plainMap(m map[string]any) map[string]any {
	return codec.Plain(m).(map[string]any)
}

func DecodeCBOR(b []byte) (*Data, error) {
	var w wire
	if err := codec.Unmarshal(b, &w); err != nil {
		return nil, wrapDecode(err)
	}
	return fromWire(w)
}

// DecodeJSON is the counterpart of MarshalJSON for callers holding bytes.
func DecodeJSON(b []byte) (*Data, error) {
	d := &Data{}
	if err := d.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return d, nil
}

// wrapDecode keeps classified element errors and marks syntax errors as
// validation failures.
func wrapDecode(err error) error {
	if udferr.IsValidation(err) || udferr.IsResource(err) {
		return err
	}
	return udferr.Invalid("udf data: %v", err)
}
