// udfcodec converts and inspects UDF parcels.
//
//	udfcodec convert --in parcel.json --out parcel.cbor
//	udfcodec inspect --in parcel.cbor --cells --res 7
//	udfcodec export  --in parcel.json --cube temp --out temp.tif --format tiff
//	udfcodec collect --in collection.json --out parcel.json
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mohammed-shakir/geo-udf/internal/compress"
	"github.com/mohammed-shakir/geo-udf/internal/core/config"
	"github.com/mohammed-shakir/geo-udf/internal/udf"
	"github.com/mohammed-shakir/geo-udf/internal/udf/hypercube"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

const usage = `usage: udfcodec <command> [flags]

commands:
  convert   re-encode a parcel between JSON and CBOR
  inspect   summarise a parcel
  export    write one hypercube as a cube file or a multi-band TIFF
  collect   build a parcel from a data collection document
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if b, jerr := json.Marshal(udferr.Report(err)); jerr == nil && (udferr.IsValidation(err) || udferr.IsResource(err)) {
			fmt.Fprintln(os.Stderr, string(b))
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "convert":
		return convert(rest)
	case "inspect":
		return inspect(rest, stdout)
	case "export":
		return export(rest)
	case "collect":
		return collect(rest)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("udfcodec "+name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

type format string

const (
	formatJSON format = "json"
	formatCBOR format = "cbor"
)

// formatFor picks the encoding from an explicit flag, then the extension,
// then the first byte of the payload.
func formatFor(flag, path string, payload []byte) (format, error) {
	switch strings.ToLower(flag) {
	case "json":
		return formatJSON, nil
	case "cbor":
		return formatCBOR, nil
	case "":
	default:
		return "", fmt.Errorf("unknown format %q (want json|cbor)", flag)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".cbor":
		return formatCBOR, nil
	}
	if t := bytes.TrimSpace(payload); len(t) > 0 && t[0] == '{' {
		return formatJSON, nil
	}
	return formatCBOR, nil
}

func readParcel(path, fmtFlag string) (*udf.Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := formatFor(fmtFlag, path, b)
	if err != nil {
		return nil, err
	}
	if f == formatJSON {
		return udf.DecodeJSON(b)
	}
	return udf.DecodeCBOR(b)
}

func writeParcel(path, fmtFlag string, d *udf.Data) error {
	f, err := formatFor(fmtFlag, path, nil)
	if err != nil {
		return err
	}
	var b []byte
	if f == formatJSON {
		b, err = json.MarshalIndent(d, "", "  ")
	} else {
		b, err = d.EncodeCBOR()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func convert(args []string) error {
	fs := newFlags("convert")
	in := fs.StringP("in", "i", "", "input parcel")
	out := fs.StringP("out", "o", "", "output parcel")
	from := fs.String("from", "", "input encoding json|cbor (default: detect)")
	to := fs.String("to", "", "output encoding json|cbor (default: from the output extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("convert: --in and --out are required")
	}
	d, err := readParcel(*in, *from)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}
	if err := writeParcel(*out, *to, d); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	return nil
}

type summary struct {
	Proj         map[string]any      `json:"proj"`
	RasterTiles  []string            `json:"raster_collection_tiles"`
	HyperCubes   []cubeSummary       `json:"hypercubes"`
	FeatureTiles []string            `json:"feature_collection_tiles"`
	Structured   []string            `json:"structured_data_list"`
	Models       []string            `json:"machine_learn_models"`
	Cells        map[string][]string `json:"h3_cells,omitempty"`
}

type cubeSummary struct {
	ID    string   `json:"id"`
	Dims  []string `json:"dimensions"`
	Shape []int    `json:"shape"`
	DType string   `json:"dtype"`
}

func inspect(args []string, stdout io.Writer) error {
	fs := newFlags("inspect")
	in := fs.StringP("in", "i", "", "input parcel")
	from := fs.String("from", "", "input encoding json|cbor (default: detect)")
	cells := fs.Bool("cells", false, "list the H3 cells covered by each raster tile")
	res := fs.Int("res", config.FromEnv().H3Res, "H3 resolution for --cells (default: H3_RES)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("inspect: --in is required")
	}
	d, err := readParcel(*in, *from)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	s := summary{Proj: d.Proj()}
	for _, t := range d.RasterTiles() {
		s.RasterTiles = append(s.RasterTiles, t.ID)
	}
	for _, h := range d.HyperCubes() {
		s.HyperCubes = append(s.HyperCubes, cubeSummary{
			ID:    h.ID,
			Dims:  h.DimNames(),
			Shape: slices.Clone(h.Data.Shape),
			DType: string(h.Data.DType),
		})
	}
	for _, t := range d.FeatureTiles() {
		s.FeatureTiles = append(s.FeatureTiles, t.ID)
	}
	for _, sd := range d.StructuredData() {
		s.Structured = append(s.Structured, sd.Description)
	}
	for _, m := range d.Models() {
		s.Models = append(s.Models, m.Name)
	}
	if *cells {
		if s.Cells, err = d.TileCells(*res); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func export(args []string) error {
	fs := newFlags("export")
	in := fs.StringP("in", "i", "", "input parcel")
	from := fs.String("from", "", "input encoding json|cbor (default: detect)")
	id := fs.String("cube", "", "hypercube id (default: the only hypercube)")
	out := fs.StringP("out", "o", "", "output file")
	kind := fs.String("format", "", "cube|tiff (default: from the output extension)")
	comp := fs.String("compress", "zstd", "cube file compression none|lz4|zstd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("export: --in and --out are required")
	}
	d, err := readParcel(*in, *from)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	var cube *hypercube.HyperCube
	switch cubes := d.HyperCubes(); {
	case *id != "":
		var ok bool
		if cube, ok = d.HyperCubeByID(*id); !ok {
			return fmt.Errorf("hypercube %q: %w", *id, udferr.ErrNotFound)
		}
	case len(cubes) == 1:
		cube = cubes[0]
	default:
		return fmt.Errorf("export: parcel has %d hypercubes, pick one with --cube", len(cubes))
	}

	k := strings.ToLower(*kind)
	if k == "" {
		switch strings.ToLower(filepath.Ext(*out)) {
		case ".tif", ".tiff":
			k = "tiff"
		default:
			k = "cube"
		}
	}
	switch k {
	case "tiff":
		return hypercube.WriteRasterFile(*out, cube)
	case "cube":
		tag, err := compress.ParseTag(*comp)
		if err != nil {
			return err
		}
		return hypercube.WriteFile(*out, cube, tag)
	default:
		return fmt.Errorf("unknown export format %q (want cube|tiff)", *kind)
	}
}

func collect(args []string) error {
	fs := newFlags("collect")
	in := fs.StringP("in", "i", "", "data collection document (JSON)")
	out := fs.StringP("out", "o", "", "output parcel")
	to := fs.String("to", "", "output encoding json|cbor (default: from the output extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("collect: --in and --out are required")
	}
	b, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	var coll hypercube.DataCollection
	if err := json.Unmarshal(b, &coll); err != nil {
		return udferr.Invalid("data collection %s: %v", *in, err)
	}
	cubes, err := hypercube.FromDataCollection(coll)
	if err != nil {
		return err
	}
	d := udf.New(nil)
	d.SetHyperCubes(cubes)
	return writeParcel(*out, *to, d)
}
