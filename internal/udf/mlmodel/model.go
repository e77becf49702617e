package mlmodel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Resolver maps a content hash to a readable file inside the trusted
// model store.
type Resolver interface {
	Path(hash string) (string, error)
}

// Model is a Ref whose file has been read and decoded. Exactly one of the
// predictor and forwarder is set, depending on the framework.
type Model struct {
	Ref *Ref

	predictor Predictor
	forwarder Forwarder
}

// Predictor returns the tabular calling convention, if the model has one.
func (m *Model) Predictor() (Predictor, bool) { return m.predictor, m.predictor != nil }

// Forwarder returns the tensor calling convention, if the model has one.
func (m *Model) Forwarder() (Forwarder, bool) { return m.forwarder, m.forwarder != nil }

func (m *Model) MarshalJSON() ([]byte, error) { return m.Ref.MarshalJSON() }

func (m *Model) MarshalCBOR() ([]byte, error) { return m.Ref.MarshalCBOR() }

// ResolvePath returns the file a ref points at. Hash refs need res.
func ResolvePath(ref *Ref, res Resolver) (string, error) {
	if ref.Path != "" {
		return ref.Path, nil
	}
	if res == nil {
		return "", fmt.Errorf("model %q: hash %s without a model store: %w", ref.Name, ref.MD5Hash, udferr.ErrNotFound)
	}
	return res.Path(ref.MD5Hash)
}

// Load reads and decodes the model file. A missing file is ErrNotFound.
func Load(ctx context.Context, ref *Ref, res Resolver) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := ResolvePath(ref, res)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("model %q at %s: %w", ref.Name, path, udferr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("model %q: read: %w", ref.Name, err)
	}
	return decode(ref, b)
}

func decode(ref *Ref, b []byte) (*Model, error) {
	f, err := ParseFramework(string(ref.Framework))
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", ref.Name, err)
	}
	m := &Model{Ref: ref}
	switch f {
	case SKLearn:
		m.predictor, err = decodeObjectGraph(b)
	case PyTorch:
		m.forwarder, err = decodeCheckpoint(b)
	}
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", ref.Name, err)
	}
	return m, nil
}
