package mlmodel

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Predictor maps each row of a fixed-column table to one scalar.
type Predictor interface {
	Features() int
	Predict(rows [][]float64) ([]float64, error)
}

const (
	kindLinear       = "linear"
	kindTreeEnsemble = "tree_ensemble"
)

// LinearModel computes coef·row + intercept, passed through the logistic
// function when Link is "logistic".
type LinearModel struct {
	Coef      []float64 `cbor:"coef"`
	Intercept float64   `cbor:"intercept"`
	Link      string    `cbor:"link,omitempty"`
}

func (m *LinearModel) Features() int { return len(m.Coef) }

func (m *LinearModel) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if err := checkRow(i, row, len(m.Coef)); err != nil {
			return nil, err
		}
		v := m.Intercept
		for j, c := range m.Coef {
			v += c * row[j]
		}
		if m.Link == "logistic" {
			v = 1 / (1 + math.Exp(-v))
		}
		out[i] = v
	}
	return out, nil
}

// Node is one split or leaf of a regression tree. A node with Left < 0 is
// a leaf.
type Node struct {
	Feature   int     `cbor:"feature"`
	Threshold float64 `cbor:"threshold"`
	Left      int     `cbor:"left"`
	Right     int     `cbor:"right"`
	Value     float64 `cbor:"value"`
}

type Tree struct {
	Nodes []Node `cbor:"nodes"`
}

func (t Tree) eval(row []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if i < 0 || i >= len(t.Nodes) {
			return 0, udferr.Invalid("tree node %d out of range", i)
		}
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(row) {
			return 0, udferr.Invalid("tree splits on feature %d of %d", n.Feature, len(row))
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, udferr.Invalid("tree has a cycle")
}

// TreeEnsemble sums or averages its trees on top of Base.
type TreeEnsemble struct {
	NFeatures int     `cbor:"n_features"`
	Trees     []Tree  `cbor:"trees"`
	Aggregate string  `cbor:"aggregate,omitempty"`
	Base      float64 `cbor:"base,omitempty"`
}

func (m *TreeEnsemble) Features() int { return m.NFeatures }

func (m *TreeEnsemble) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if err := checkRow(i, row, m.NFeatures); err != nil {
			return nil, err
		}
		var sum float64
		for _, t := range m.Trees {
			v, err := t.eval(row)
			if err != nil {
				return nil, err
			}
			sum += v
		}
		if m.Aggregate == "mean" && len(m.Trees) > 0 {
			sum /= float64(len(m.Trees))
		}
		out[i] = m.Base + sum
	}
	return out, nil
}

func checkRow(i int, row []float64, n int) error {
	if len(row) != n {
		return fmt.Errorf("row %d has %d columns, model expects %d: %w", i, len(row), n, udferr.ErrSizeMismatch)
	}
	return nil
}

type graphDoc struct {
	Kind   string        `cbor:"kind"`
	Linear *LinearModel  `cbor:"linear,omitempty"`
	Trees  *TreeEnsemble `cbor:"tree_ensemble,omitempty"`
}

// EncodeObjectGraph serialises a LinearModel or TreeEnsemble.
func EncodeObjectGraph(p Predictor) ([]byte, error) {
	var doc graphDoc
	switch m := p.(type) {
	case *LinearModel:
		doc = graphDoc{Kind: kindLinear, Linear: m}
	case *TreeEnsemble:
		doc = graphDoc{Kind: kindTreeEnsemble, Trees: m}
	default:
		return nil, fmt.Errorf("object graph: unsupported predictor %T", p)
	}
	return codec.Marshal(doc)
}

func decodeObjectGraph(b []byte) (Predictor, error) {
	var doc graphDoc
	if err := codec.Unmarshal(b, &doc); err != nil {
		return nil, udferr.Invalid("object graph: %v", err)
	}
	switch {
	case doc.Kind == kindLinear && doc.Linear != nil:
		return doc.Linear, nil
	case doc.Kind == kindTreeEnsemble && doc.Trees != nil:
		return doc.Trees, nil
	default:
		return nil, udferr.Invalid("object graph: unknown model kind %q", doc.Kind)
	}
}
