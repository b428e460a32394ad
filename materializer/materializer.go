// Package materializer turns step outputs into bytes and back so they can be
// persisted as artifacts.
package materializer

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Materializer persists a single step output. Save writes v to w; Load reads a
// value previously written by Save.
type Materializer interface {
	Name() string
	Save(w io.Writer, v any) error
	Load(r io.Reader) (any, error)
}

type jsonMaterializer struct{}

// JSON encodes outputs with encoding/json. Load returns the generic decoding
// (map[string]any, []any, float64, ...).
func JSON() Materializer { return jsonMaterializer{} }

func (jsonMaterializer) Name() string { return "json" }

func (jsonMaterializer) Save(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (jsonMaterializer) Load(r io.Reader) (any, error) {
	var out any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("json materializer: %w", err)
	}
	return out, nil
}

type yamlMaterializer struct{}

// YAML encodes outputs with gopkg.in/yaml.v3.
func YAML() Materializer { return yamlMaterializer{} }

func (yamlMaterializer) Name() string { return "yaml" }

func (yamlMaterializer) Save(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (yamlMaterializer) Load(r io.Reader) (any, error) {
	var out any
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("yaml materializer: %w", err)
	}
	return out, nil
}

type textMaterializer struct{}

// Text writes string, []byte and fmt.Stringer outputs verbatim. Load returns a string.
func Text() Materializer { return textMaterializer{} }

func (textMaterializer) Name() string { return "text" }

func (textMaterializer) Save(w io.Writer, v any) error {
	var err error
	switch t := v.(type) {
	case string:
		_, err = io.WriteString(w, t)
	case []byte:
		_, err = w.Write(t)
	case fmt.Stringer:
		_, err = io.WriteString(w, t.String())
	default:
		return fmt.Errorf("text materializer: unsupported type %T", v)
	}
	return err
}

func (textMaterializer) Load(r io.Reader) (any, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("text materializer: %w", err)
	}
	return string(b), nil
}

// Registry maps names to materializers. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Materializer
}

// NewRegistry returns a registry holding the built-in json, yaml and text materializers.
func NewRegistry() *Registry {
	r := &Registry{items: make(map[string]Materializer)}
	for _, m := range []Materializer{JSON(), YAML(), Text()} {
		r.items[m.Name()] = m
	}
	return r
}

// Register adds m under name, replacing any existing entry.
func (r *Registry) Register(name string, m Materializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = m
}

func (r *Registry) Get(name string) (Materializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[name]
	return m, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for n := range r.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
