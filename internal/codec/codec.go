// Package codec serialises the check-in, task and result structures
// exchanged with the command server.
//
// The stock server speaks JSON.  CBOR is offered for deployments whose
// server side accepts application/cbor; both codecs decode free-form
// task parameters into map[string]any so handlers never see
// codec-specific map types.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec marshals wire structures.  Implementations are safe for
// concurrent use.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ── JSON ─────────────────────────────────────────────────────────────

type jsonCodec struct{}

// JSON returns a JSON codec (RFC 8259).  Content-Type: application/json
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string                 { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error)       { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ── CBOR ─────────────────────────────────────────────────────────────

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a CBOR codec using Core Deterministic Encoding (RFC 8949
// §4.2).  Maps decoded into an any target become map[string]any.
func CBOR() (Codec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                 { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)       { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ── Registry ─────────────────────────────────────────────────────────

// Registry maps short names and content types to codecs.
type Registry struct {
	byName map[string]Codec
	byType map[string]Codec
}

// NewRegistry returns a registry holding the JSON and CBOR codecs
// under the names "json" and "cbor".
func NewRegistry() (*Registry, error) {
	r := &Registry{byName: make(map[string]Codec), byType: make(map[string]Codec)}
	r.Register("json", JSON())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register("cbor", c)
	return r, nil
}

// Register adds a codec under name and under its content type.
func (r *Registry) Register(name string, c Codec) {
	r.byName[strings.ToLower(name)] = c
	r.byType[c.ContentType()] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Lookup returns a codec by short name, or nil.
func (r *Registry) Lookup(name string) Codec { return r.byName[strings.ToLower(name)] }

// Names returns the registered short names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName resolves a codec name from configuration.  An empty name
// selects JSON.
func ByName(name string) (Codec, error) {
	if name == "" {
		return JSON(), nil
	}
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	if c := r.Lookup(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown codec %q (available: %s)", name, strings.Join(r.Names(), ", "))
}
