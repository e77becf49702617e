// Package mlmodel loads trained models referenced from a UDF parcel and
// exposes them through two calling conventions, Predictor and Forwarder.
package mlmodel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

// Framework selects the deserializer for a model file.
type Framework string

const (
	// SKLearn models are CBOR object graphs of linear models or tree
	// ensembles.
	SKLearn Framework = "sklearn"
	// PyTorch models are compressed dense-layer checkpoints.
	PyTorch Framework = "pytorch"
)

// ParseFramework matches the tag exactly, ignoring case.
func ParseFramework(tag string) (Framework, error) {
	switch f := Framework(strings.ToLower(strings.TrimSpace(tag))); f {
	case SKLearn, PyTorch:
		return f, nil
	default:
		return "", fmt.Errorf("framework %q: %w", tag, udferr.ErrUnsupportedFramework)
	}
}

// Ref is the wire description of a model: metadata plus exactly one of a
// local path or a content hash in the model store.
type Ref struct {
	Framework   Framework
	Name        string
	Description string
	Path        string
	MD5Hash     string

	// tag keeps the framework spelling seen on the wire.
	tag string
}

func NewRef(framework Framework, name, description, path, md5Hash string) (*Ref, error) {
	r := &Ref{Framework: framework, Name: name, Description: description, Path: path, MD5Hash: md5Hash}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Ref) validate() error {
	if _, err := ParseFramework(string(r.Framework)); err != nil {
		return err
	}
	switch {
	case r.Path == "" && r.MD5Hash == "":
		return udferr.Missing("machine learn model "+r.Name, "path or md5_hash")
	case r.Path != "" && r.MD5Hash != "":
		return udferr.Invalid("machine learn model %q: path and md5_hash are exclusive", r.Name)
	}
	return nil
}

type refWire struct {
	Framework   *string `json:"framework"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Path        string  `json:"path,omitempty"`
	MD5Hash     string  `json:"md5_hash,omitempty"`
}

func (r *Ref) toWire() refWire {
	tag := r.tag
	if tag == "" {
		tag = string(r.Framework)
	}
	name, desc := r.Name, r.Description
	return refWire{Framework: &tag, Name: &name, Description: &desc, Path: r.Path, MD5Hash: r.MD5Hash}
}

func refFromWire(w refWire) (*Ref, error) {
	if w.Name == nil {
		return nil, udferr.Missing("machine learn model", "name")
	}
	if w.Framework == nil {
		return nil, udferr.Missing("machine learn model "+*w.Name, "framework")
	}
	f, err := ParseFramework(*w.Framework)
	if err != nil {
		return nil, fmt.Errorf("machine learn model %q: %w", *w.Name, err)
	}
	var desc string
	if w.Description != nil {
		desc = *w.Description
	}
	r, err := NewRef(f, *w.Name, desc, w.Path, w.MD5Hash)
	if err != nil {
		return nil, err
	}
	r.tag = *w.Framework
	return r, nil
}

func (r *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var w refWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("machine learn model: %w", err)
	}
	out, err := refFromWire(w)
	if err != nil {
		return err
	}
	*r = *out
	return nil
}

func (r *Ref) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(r.toWire())
}

func (r *Ref) UnmarshalCBOR(b []byte) error {
	var w refWire
	if err := codec.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("machine learn model: %w", err)
	}
	out, err := refFromWire(w)
	if err != nil {
		return err
	}
	*r = *out
	return nil
}
