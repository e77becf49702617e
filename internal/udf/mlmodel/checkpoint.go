package mlmodel

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/compress"
	"github.com/mohammed-shakir/geo-udf/internal/udf/ndarray"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

var checkpointMagic = [4]byte{'U', 'D', 'F', 'M'}

// Forwarder runs a forward pass over the last axis of a tensor.
type Forwarder interface {
	Forward(x *ndarray.NDArray) (*ndarray.NDArray, error)
}

// Layer is a dense layer: y = act(W·x + b) with W shaped [Out][In].
type Layer struct {
	In         int       `cbor:"in"`
	Out        int       `cbor:"out"`
	Weight     []float64 `cbor:"weight"`
	Bias       []float64 `cbor:"bias,omitempty"`
	Activation string    `cbor:"activation,omitempty"`
}

type Network struct {
	Layers []Layer `cbor:"layers"`
}

func (n *Network) validate() error {
	if len(n.Layers) == 0 {
		return udferr.Invalid("checkpoint: no layers")
	}
	for i, l := range n.Layers {
		if l.In <= 0 || l.Out <= 0 || len(l.Weight) != l.In*l.Out {
			return fmt.Errorf("checkpoint layer %d: weight has %d values for %dx%d: %w",
				i, len(l.Weight), l.Out, l.In, udferr.ErrSizeMismatch)
		}
		if l.Bias != nil && len(l.Bias) != l.Out {
			return fmt.Errorf("checkpoint layer %d: bias has %d values for %d outputs: %w",
				i, len(l.Bias), l.Out, udferr.ErrSizeMismatch)
		}
		if i > 0 && n.Layers[i-1].Out != l.In {
			return fmt.Errorf("checkpoint layer %d: input %d does not follow output %d: %w",
				i, l.In, n.Layers[i-1].Out, udferr.ErrSizeMismatch)
		}
		switch l.Activation {
		case "", "relu", "sigmoid", "tanh":
		default:
			return udferr.Invalid("checkpoint layer %d: unknown activation %q", i, l.Activation)
		}
	}
	return nil
}

// Forward treats every leading index of x as one sample.
func (n *Network) Forward(x *ndarray.NDArray) (*ndarray.NDArray, error) {
	if x.Rank() == 0 {
		return nil, udferr.Invalid("forward: scalar input")
	}
	in := x.Shape[x.Rank()-1]
	if in != n.Layers[0].In {
		return nil, fmt.Errorf("forward: last axis %d, network expects %d: %w", in, n.Layers[0].In, udferr.ErrSizeMismatch)
	}
	samples := 0
	if in > 0 {
		samples = len(x.Values) / in
	}
	outDim := n.Layers[len(n.Layers)-1].Out
	out := make([]float64, 0, samples*outDim)
	for s := range samples {
		v := x.Values[s*in : (s+1)*in]
		for _, l := range n.Layers {
			v = l.apply(v)
		}
		out = append(out, v...)
	}
	shape := append(append([]int(nil), x.Shape[:x.Rank()-1]...), outDim)
	return ndarray.New(ndarray.Float64, shape, out)
}

func (l Layer) apply(x []float64) []float64 {
	y := make([]float64, l.Out)
	for o := range y {
		var acc float64
		if l.Bias != nil {
			acc = l.Bias[o]
		}
		row := l.Weight[o*l.In : (o+1)*l.In]
		for i, w := range row {
			acc += w * x[i]
		}
		switch l.Activation {
		case "relu":
			acc = math.Max(0, acc)
		case "sigmoid":
			acc = 1 / (1 + math.Exp(-acc))
		case "tanh":
			acc = math.Tanh(acc)
		}
		y[o] = acc
	}
	return y
}

// EncodeCheckpoint writes the network as framed, compressed CBOR.
func EncodeCheckpoint(n *Network, tag compress.Tag) ([]byte, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return compress.Frame(checkpointMagic, payload, tag)
}

func decodeCheckpoint(b []byte) (*Network, error) {
	payload, _, err := compress.Unframe(checkpointMagic, b)
	if err != nil {
		return nil, udferr.Invalid("checkpoint: %v", err)
	}
	var n Network
	if err := codec.Unmarshal(payload, &n); err != nil {
		return nil, udferr.Invalid("checkpoint: %v", err)
	}
	if err := n.validate(); err != nil {
		return nil, err
	}
	return &n, nil
}
