// Package schema maps payload schema tags to decoders. The store treats
// payloads as opaque bytes; decoding only happens when a filter expression
// needs to look inside one.
package schema

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ErrUnknownSchema is returned when no mapper is registered for a tag and the
// registry has no fallback.
var ErrUnknownSchema = errors.New("unknown payload schema")

// Mapper decodes the payload bytes of one schema into a value that filter
// expressions can navigate (maps, slices and scalars).
type Mapper interface {
	Decode(data []byte) (interface{}, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(data []byte) (interface{}, error)

// Decode calls f.
func (f MapperFunc) Decode(data []byte) (interface{}, error) {
	return f(data)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON decodes payloads holding a JSON document.
var JSON Mapper = MapperFunc(func(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decoding json payload")
	}
	return v, nil
})

// Registry is a concurrency-safe set of mappers keyed by schema tag.
type Registry struct {
	mu       sync.RWMutex
	mappers  map[string]Mapper
	fallback Mapper
}

// NewRegistry returns a registry that decodes unregistered schemas with
// fallback. A nil fallback makes unregistered schemas an error.
func NewRegistry(fallback Mapper) *Registry {
	return &Registry{
		mappers:  make(map[string]Mapper),
		fallback: fallback,
	}
}

// Default decodes every schema as JSON unless told otherwise.
var Default = NewRegistry(JSON)

// Register sets the mapper for a schema tag, replacing any previous one.
func (r *Registry) Register(tag string, m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[tag] = m
}

// Lookup returns the mapper for tag.
func (r *Registry) Lookup(tag string) (Mapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.mappers[tag]; ok {
		return m, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.Wrapf(ErrUnknownSchema, "schema %q", tag)
}

// Decode decodes data according to tag.
func (r *Registry) Decode(tag string, data []byte) (interface{}, error) {
	m, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return m.Decode(data)
}
