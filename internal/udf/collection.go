package udf

import (
	"github.com/mohammed-shakir/geo-udf/internal/udf/hypercube"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
	"github.com/mohammed-shakir/geo-udf/internal/udf/structured"
	"github.com/mohammed-shakir/geo-udf/internal/udf/tile"
)

// keyer names an element's lookup id. Implementations are empty structs so
// the zero indexed value is ready to use.
type keyer[T any] interface {
	key(T) string
}

type (
	rasterKey     struct{}
	cubeKey       struct{}
	featureKey    struct{}
	structuredKey struct{}
	modelKey      struct{}
)

func (rasterKey) key(t *tile.RasterCollectionTile) string   { return t.ID }
func (cubeKey) key(h *hypercube.HyperCube) string           { return h.ID }
func (featureKey) key(t *tile.FeatureCollectionTile) string { return t.ID }

// structured results carry no id; the description names them
func (structuredKey) key(s *structured.StructuredData) string { return s.Description }
func (modelKey) key(r *mlmodel.Ref) string                    { return r.Name }

// indexed keeps insertion order next to an id lookup. A repeated id leaves
// both entries in the list; the lookup returns the later one.
type indexed[T any, K keyer[T]] struct {
	list []T
	byID map[string]T
}

func (c *indexed[T, K]) append(v T) {
	if c.byID == nil {
		c.byID = map[string]T{}
	}
	var k K
	c.list = append(c.list, v)
	c.byID[k.key(v)] = v
}

func (c *indexed[T, K]) get(id string) (T, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *indexed[T, K]) set(vs []T) {
	c.clear()
	for _, v := range vs {
		c.append(v)
	}
}

func (c *indexed[T, K]) clear() {
	c.list = nil
	clear(c.byID)
}

// items never returns nil so wire arrays are always present.
func (c *indexed[T, K]) items() []T {
	if c.list == nil {
		return []T{}
	}
	return c.list
}
