package udf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/geo-udf/internal/mlstore"
	"github.com/mohammed-shakir/geo-udf/internal/udf/extent"
	"github.com/mohammed-shakir/geo-udf/internal/udf/hypercube"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udf/structured"
	"github.com/mohammed-shakir/geo-udf/internal/udf/tile"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

func rasterA(t *testing.T) *tile.RasterCollectionTile {
	t.Helper()
	data, err := ndarray.New(ndarray.Float64, []int{1, 2, 2}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("ndarray: %v", err)
	}
	start, _ := tile.Timestamps("2001-01-01T00:00:00Z")
	end, _ := tile.Timestamps("2001-01-02T00:00:00Z")
	r, err := tile.NewRaster("A", data, extent.MustNew(53, 52, 30, 28, 0.5, 1),
		tile.WithStartTimes(start), tile.WithEndTimes(end))
	if err != nil {
		t.Fatalf("NewRaster: %v", err)
	}
	w := 420.0
	r.SetWavelength(&w)
	return r
}

func sampleData(t *testing.T) *Data {
	t.Helper()
	d := New(map[string]any{"EPSG": 4326.0})
	d.SetUserContext(map[string]any{"threshold": 0.3})
	d.AppendRasterTile(rasterA(t))

	cubeData, _ := ndarray.New(ndarray.Float64, []int{2, 2}, []float64{1, 2, 3, 4})
	cube, err := hypercube.New("temp", cubeData, []hypercube.Dimension{
		{Name: "t", Coordinates: hypercube.LabelCoords("2001-01-01", "2001-01-02")},
		{Name: "x", Coordinates: hypercube.NumericCoords(0.5, 1.5)},
	}, "temperature")
	if err != nil {
		t.Fatalf("hypercube: %v", err)
	}
	d.AppendHyperCube(cube)

	table := &tile.FeatureTable{Features: []tile.Feature{
		{Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{24, 50}), Properties: map[string]any{"a": 1.0}},
	}}
	ft, err := tile.NewFeature("points", table)
	if err != nil {
		t.Fatalf("NewFeature: %v", err)
	}
	d.AppendFeatureTile(ft)

	sd, _ := structured.New("stats", map[string]any{"mean": 2.5}, structured.Dict)
	d.AppendStructuredData(sd)

	ref, err := mlmodel.NewRef(mlmodel.SKLearn, "forest", "random forest", "/models/forest.cbor", "")
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}
	d.AppendModel(ref)
	return d
}

func TestRoundTrip_RasterByID(t *testing.T) {
	d := New(map[string]any{})
	d.AppendRasterTile(rasterA(t))

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, ok := got.RasterTileByID("A")
	if !ok {
		t.Fatalf("tile A missing after round trip")
	}
	if w, ok := r.Wavelength(); !ok || w != 420 {
		t.Fatalf("wavelength=%v,%v", w, ok)
	}
	want := rasterA(t)
	if !r.Extent().Equal(want.Extent()) {
		t.Fatalf("extent %v want %v", r.Extent(), want.Extent())
	}
	if !reflect.DeepEqual(r.StartTimes(), want.StartTimes()) || !reflect.DeepEqual(r.EndTimes(), want.EndTimes()) {
		t.Fatalf("times differ: %v %v", r.StartTimes(), r.EndTimes())
	}
	if !r.Equal(want) {
		t.Fatalf("tile differs after round trip")
	}
}

func TestJSON_Idempotent(t *testing.T) {
	d := sampleData(t)
	first, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := DecodeJSON(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}

	var a, b map[string]any
	_ = json.Unmarshal(first, &a)
	_ = json.Unmarshal(second, &b)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("round trip changed parcel:\n%s\n%s", first, second)
	}
}

func TestCBOR_MatchesJSONShape(t *testing.T) {
	d := sampleData(t)
	b, err := d.EncodeCBOR()
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}
	again, err := d.EncodeCBOR()
	if err != nil || !slices.Equal(b, again) {
		t.Fatalf("encoding not deterministic")
	}
	back, err := DecodeCBOR(b)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	j1, _ := json.Marshal(d)
	j2, _ := json.Marshal(back)
	var a, c map[string]any
	_ = json.Unmarshal(j1, &a)
	_ = json.Unmarshal(j2, &c)
	if !reflect.DeepEqual(a, c) {
		t.Fatalf("cbor round trip differs:\n%s\n%s", j1, j2)
	}
}

func TestMarshal_EmptyIsTotal(t *testing.T) {
	b, err := json.Marshal(New(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"proj", "user_context", "server_context"} {
		if v, ok := m[k].(map[string]any); !ok || len(v) != 0 {
			t.Fatalf("%s=%v want {}", k, m[k])
		}
	}
	for _, k := range []string{"raster_collection_tiles", "hypercubes", "feature_collection_tiles", "structured_data_list", "machine_learn_models"} {
		if v, ok := m[k].([]any); !ok || len(v) != 0 {
			t.Fatalf("%s=%v want []", k, m[k])
		}
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"missing proj", `{}`, udferr.ErrMissingField},
		{"null proj", `{"proj": null}`, udferr.ErrMissingField},
		{"null element", `{"proj": {}, "hypercubes": [null]}`, udferr.ErrValidation},
		{"bad raster rank", `{"proj": {}, "raster_collection_tiles": [{"id": "r", "data": [1, 2],
			"extent": {"top": 1, "bottom": 0, "right": 1, "left": 0}}]}`, udferr.ErrValidation},
		{"structured without type", `{"proj": {}, "structured_data_list": [{"description": "d", "data": {}}]}`, udferr.ErrMissingField},
		{"unknown framework", `{"proj": {}, "machine_learn_models": [{"framework": "py", "name": "m",
			"description": "", "path": "/m"}]}`, udferr.ErrUnsupportedFramework},
		{"not json", `[`, udferr.ErrValidation},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(c.in))
			if !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
}

func TestUnmarshal_OnlyProj(t *testing.T) {
	d, err := DecodeJSON([]byte(`{"proj": {"EPSG": 3857}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Proj()["EPSG"] != json.Number("3857") {
		t.Fatalf("proj=%v", d.Proj())
	}
	if len(d.RasterTiles()) != 0 || len(d.Models()) != 0 || len(d.UserContext()) != 0 {
		t.Fatalf("expected empty collections")
	}
}

func TestDuplicateID_LastWriteWins(t *testing.T) {
	d := New(nil)
	a1, _ := structured.New("same", []any{1.0}, structured.List)
	a2, _ := structured.New("same", []any{2.0}, structured.List)
	d.AppendStructuredData(a1)
	d.AppendStructuredData(a2)

	if got := d.StructuredData(); len(got) != 2 || got[0] != a1 || got[1] != a2 {
		t.Fatalf("list=%v", got)
	}
	if got, _ := d.StructuredDataByID("same"); got != a2 {
		t.Fatalf("lookup returned the first entry")
	}

	d.SetStructuredData([]*structured.StructuredData{a1})
	if got, _ := d.StructuredDataByID("same"); got != a1 || len(d.StructuredData()) != 1 {
		t.Fatalf("set did not replace")
	}
	d.DelStructuredData()
	if _, ok := d.StructuredDataByID("same"); ok || len(d.StructuredData()) != 0 {
		t.Fatalf("del did not clear")
	}
}

func TestTileCells(t *testing.T) {
	d := New(nil)
	d.AppendRasterTile(rasterA(t))
	cells, err := d.TileCells(5)
	if err != nil {
		t.Fatalf("TileCells: %v", err)
	}
	if len(cells["A"]) == 0 {
		t.Fatalf("no cells for tile A")
	}
	if _, err := d.TileCells(16); !errors.Is(err, udferr.ErrDomain) {
		t.Fatalf("res 16: want ErrDomain, got %v", err)
	}
}

func TestLoadModels_FromStore(t *testing.T) {
	store, err := mlstore.New(filepath.Join(t.TempDir(), "models"))
	if err != nil {
		t.Fatalf("mlstore: %v", err)
	}
	b, err := mlmodel.EncodeObjectGraph(&mlmodel.LinearModel{Coef: []float64{1, 2}, Intercept: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	src := filepath.Join(t.TempDir(), "lin.cbor")
	if err := os.WriteFile(src, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx := context.Background()
	hash, err := store.Store(ctx, src)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	ref, err := mlmodel.NewRef(mlmodel.SKLearn, "lin", "linear", "", hash)
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}
	d := New(nil)
	d.AppendModel(ref)
	loader := &mlmodel.Loader{Resolver: store, Cache: mlmodel.NewCache(4)}

	models, err := d.LoadModels(ctx, loader)
	if err != nil {
		t.Fatalf("LoadModels: %v", err)
	}
	p, ok := models[0].Predictor()
	if !ok {
		t.Fatalf("model has no predictor")
	}
	out, err := p.Predict([][]float64{{1, 1}})
	if err != nil || out[0] != 4 {
		t.Fatalf("predict=%v err=%v", out, err)
	}

	if err := store.Delete(ctx, hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loader.Cache.Evict(hash)
	if _, err := d.LoadModels(ctx, loader); !errors.Is(err, udferr.ErrNotFound) {
		t.Fatalf("after delete: want ErrNotFound, got %v", err)
	}
}

func TestOpaqueMaps_KeepNumbersExact(t *testing.T) {
	doc := `{"proj":{"EPSG":4326},"user_context":{"n":9007199254740993,"f":0.1},
		"server_context":{"big":[18446744073709551615]},
		"structured_data_list":[{"description":"ids","data":[9007199254740993],"type":"list"}]}`
	d, err := DecodeJSON([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"n":9007199254740993`, `"f":0.1`, `[18446744073709551615]`, `"data":[9007199254740993]`, `"EPSG":4326`} {
		if !bytes.Contains(b, []byte(want)) {
			t.Fatalf("%s missing from %s", want, b)
		}
	}

	c, err := d.EncodeCBOR()
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}
	back, err := DecodeCBOR(c)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if got := back.UserContext()["n"]; got != uint64(9007199254740993) {
		t.Fatalf("cbor user_context n=%#v", got)
	}
	j, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("marshal after cbor: %v", err)
	}
	for _, want := range []string{`"n":9007199254740993`, `"data":[9007199254740993]`} {
		if !bytes.Contains(j, []byte(want)) {
			t.Fatalf("%s missing after cbor from %s", want, j)
		}
	}
}

func TestZeroValueData(t *testing.T) {
	var d Data
	d.AppendRasterTile(rasterA(t))
	if _, ok := d.RasterTileByID("A"); !ok {
		t.Fatalf("lookup on zero Data failed")
	}
	if _, ok := d.HyperCubeByID("missing"); ok {
		t.Fatalf("unexpected hypercube")
	}
	d.DelModels()
	b, err := json.Marshal(&d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(b, []byte(`"proj":{}`)) {
		t.Fatalf("proj not emitted: %s", b)
	}
}

func TestRasterNaN_JSONMatchesCBOR(t *testing.T) {
	data, _ := ndarray.New(ndarray.Float64, []int{1, 1, 2}, []float64{math.NaN(), 1})
	r, err := tile.NewRaster("nodata", data, extent.MustNew(1, 0, 2, 0, 1, 1))
	if err != nil {
		t.Fatalf("NewRaster: %v", err)
	}
	d := New(nil)
	d.AppendRasterTile(r)

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fromJSON, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	c, err := d.EncodeCBOR()
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}
	fromCBOR, err := DecodeCBOR(c)
	if err != nil {
		t.Fatalf("decode cbor: %v", err)
	}
	for name, got := range map[string]*Data{"json": fromJSON, "cbor": fromCBOR} {
		rt, ok := got.RasterTileByID("nodata")
		if !ok || !rt.Equal(r) {
			t.Fatalf("%s: raster lost or changed", name)
		}
	}
}
