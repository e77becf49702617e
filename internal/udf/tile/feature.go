package tile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udf/extent"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Feature is one row of a feature table: a geometry (nil for a null
// geometry) and its attribute columns.
type Feature struct {
	Geometry   geom.T
	Properties map[string]any
}

// FeatureTable is an ordered geometry + attribute table. It travels as a
// GeoJSON FeatureCollection whose feature ids are the row positions.
type FeatureTable struct {
	Features []Feature
}

func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Features)
}

// Columns lists attribute names in order of first appearance, taking each
// row's names in sorted order.
func (t *FeatureTable) Columns() []string {
	var cols []string
	seen := map[string]struct{}{}
	for _, f := range t.Features {
		for _, k := range sortedKeys(f.Properties) {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// Column returns one attribute per row; rows without it yield nil.
func (t *FeatureTable) Column(name string) []any {
	out := make([]any, len(t.Features))
	for i, f := range t.Features {
		out[i] = f.Properties[name]
	}
	return out
}

type featureWire struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type collectionWire struct {
	Type     string        `json:"type"`
	Features []featureWire `json:"features"`
}

var nullJSON = []byte("null")

func (t *FeatureTable) MarshalJSON() ([]byte, error) {
	out := collectionWire{Type: "FeatureCollection", Features: make([]featureWire, len(t.Features))}
	for i, f := range t.Features {
		id, _ := json.Marshal(strconv.Itoa(i))
		fw := featureWire{Type: "Feature", ID: id, Geometry: nullJSON, Properties: f.Properties}
		if f.Geometry != nil {
			g, err := geojson.Marshal(f.Geometry)
			if err != nil {
				return nil, fmt.Errorf("feature %d: encode geometry: %w", i, err)
			}
			fw.Geometry = g
		}
		out.Features[i] = fw
	}
	return json.Marshal(out)
}

func (t *FeatureTable) UnmarshalJSON(b []byte) error {
	var in collectionWire
	if err := json.Unmarshal(b, &in); err != nil {
		return udferr.Invalid("feature collection: %v", err)
	}
	if in.Type != "FeatureCollection" {
		return udferr.Invalid("feature collection: type %q, want FeatureCollection", in.Type)
	}
	features := make([]Feature, len(in.Features))
	for i, fw := range in.Features {
		if fw.Type != "Feature" {
			return udferr.Invalid("feature %d: type %q, want Feature", i, fw.Type)
		}
		var g geom.T
		raw := bytes.TrimSpace(fw.Geometry)
		if len(raw) > 0 && !bytes.Equal(raw, nullJSON) {
			if err := geojson.Unmarshal(raw, &g); err != nil {
				return udferr.Invalid("feature %d: geometry: %v", i, err)
			}
		}
		features[i] = Feature{Geometry: g, Properties: fw.Properties}
	}
	t.Features = features
	return nil
}

// GeoJSON keeps its JSON object model inside CBOR.
func (t *FeatureTable) MarshalCBOR() ([]byte, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("feature collection: %w", err)
	}
	return codec.Marshal(v)
}

func (t *FeatureTable) UnmarshalCBOR(b []byte) error {
	var v any
	if err := codec.Unmarshal(b, &v); err != nil {
		return udferr.Invalid("feature collection: %v", err)
	}
	j, err := json.Marshal(v)
	if err != nil {
		return udferr.Invalid("feature collection: %v", err)
	}
	return t.UnmarshalJSON(j)
}

// FeatureCollectionTile is a vector tile, optionally time-stamped per row.
type FeatureCollectionTile struct {
	Base

	data *FeatureTable
}

func NewFeature(id string, data *FeatureTable, opts ...Option) (*FeatureCollectionTile, error) {
	f := &FeatureCollectionTile{Base: Base{ID: id}}
	for _, o := range opts {
		o(&f.Base)
	}
	if data == nil {
		return nil, fmt.Errorf("feature tile %q: %w", id, udferr.Missing("feature tile", "data"))
	}
	f.data = data
	if err := f.CheckDataWithTime(true, data.Len()); err != nil {
		return nil, fmt.Errorf("feature tile %q: %w", id, err)
	}
	return f, nil
}

func (f *FeatureCollectionTile) Data() *FeatureTable { return f.data }

func (f *FeatureCollectionTile) SetData(data *FeatureTable) error {
	if data == nil {
		return fmt.Errorf("feature tile %q: %w", f.ID, udferr.Missing("feature tile", "data"))
	}
	if err := checkTimes(true, data.Len(), f.startTimes, f.endTimes); err != nil {
		return fmt.Errorf("feature tile %q: %w", f.ID, err)
	}
	f.data = data
	return nil
}

func (f *FeatureCollectionTile) SetStartTimes(ts []Timestamp) error {
	if err := checkTimes(true, f.data.Len(), ts, nil); err != nil {
		return fmt.Errorf("feature tile %q: %w", f.ID, err)
	}
	f.startTimes = cloneTimes(ts)
	return nil
}

func (f *FeatureCollectionTile) SetEndTimes(ts []Timestamp) error {
	if err := checkTimes(true, f.data.Len(), nil, ts); err != nil {
		return fmt.Errorf("feature tile %q: %w", f.ID, err)
	}
	f.endTimes = cloneTimes(ts)
	return nil
}

type featureTileWire struct {
	ID         *string               `json:"id"`
	StartTimes *[]Timestamp          `json:"start_times,omitempty"`
	EndTimes   *[]Timestamp          `json:"end_times,omitempty"`
	Extent     *extent.SpatialExtent `json:"extent,omitempty"`
	Data       *FeatureTable         `json:"data"`
}

func (f *FeatureCollectionTile) toWire() featureTileWire {
	id := f.ID
	return featureTileWire{
		ID:         &id,
		StartTimes: timesPtr(f.startTimes),
		EndTimes:   timesPtr(f.endTimes),
		Extent:     f.extent,
		Data:       f.data,
	}
}

func featureFromWire(w featureTileWire) (*FeatureCollectionTile, error) {
	if w.ID == nil {
		return nil, udferr.Missing("feature tile", "id")
	}
	return NewFeature(*w.ID, w.Data,
		WithStartTimes(timesVal(w.StartTimes)),
		WithEndTimes(timesVal(w.EndTimes)),
		WithExtent(w.Extent),
	)
}

func (f *FeatureCollectionTile) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.toWire())
}

func (f *FeatureCollectionTile) UnmarshalJSON(b []byte) error {
	var w featureTileWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("feature tile: %w", err)
	}
	out, err := featureFromWire(w)
	if err != nil {
		return err
	}
	*f = *out
	return nil
}

func (f *FeatureCollectionTile) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(f.toWire())
}

func (f *FeatureCollectionTile) UnmarshalCBOR(b []byte) error {
	var w featureTileWire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("feature tile: %w", err)
	}
	out, err := featureFromWire(w)
	if err != nil {
		return err
	}
	*f = *out
	return nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
