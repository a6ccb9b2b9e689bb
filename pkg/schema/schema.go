// Package schema validates request bodies against named JSON Schemas.
//
// Schemas are addressed by group and name, optionally with a subname that
// selects a variant registered as "name#subname":
//
//	reg := schema.NewRegistry()
//	reg.MustAdd("Users", "Create", []byte(`{"type":"object","required":["email"]}`))
//	body, err := reg.Validate(ctx, "Users", "Create", "", payload)
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownSchema = errors.New("schema: unknown schema")
	ErrInvalidSchema = errors.New("schema: invalid schema document")
)

// FieldError is one rejected field.
type FieldError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
}

// Errors is a validation failure carrying every rejected field.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Name + ": " + fe.Error
	}
	return "schema: " + strings.Join(parts, "; ")
}

// Output is the response payload sent to clients.
func (e Errors) Output() []byte {
	data, _ := json.Marshal(e)
	return data
}

// ContentType of Output.
func (Errors) ContentType() string { return "application/json" }

// Registry holds compiled schemas.
type Registry struct {
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*gojsonschema.Schema)}
}

func key(group, name string) string { return group + "/" + name }

// Add compiles and stores a schema document.
func (r *Registry) Add(group, name string, document []byte) error {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return errors.Join(ErrInvalidSchema, fmt.Errorf("%s: %w", key(group, name), err))
	}
	r.mu.Lock()
	r.schemas[key(group, name)] = s
	r.mu.Unlock()
	return nil
}

// MustAdd is Add that panics, for registration at startup.
func (r *Registry) MustAdd(group, name string, document []byte) {
	if err := r.Add(group, name, document); err != nil {
		panic(err)
	}
}

// Has reports whether group/name is registered.
func (r *Registry) Has(group, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[key(group, name)]
	return ok
}

func (r *Registry) lookup(group, name, subname string) (*gojsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if subname != "" {
		if s, ok := r.schemas[key(group, name+"#"+subname)]; ok {
			return s, true
		}
	}
	s, ok := r.schemas[key(group, name)]
	return s, ok
}

// Validate checks body and returns it normalized to a JSON object tree.
// Validation failures are returned as Errors.
func (r *Registry) Validate(_ context.Context, group, name, subname string, body any) (any, error) {
	s, ok := r.lookup(group, name, subname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, key(group, name))
	}

	doc := normalize(body)
	res, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, Errors{{Name: "body", Error: err.Error(), Rule: "parse"}}
	}
	if !res.Valid() {
		errs := make(Errors, 0, len(res.Errors()))
		for _, re := range res.Errors() {
			errs = append(errs, FieldError{Name: re.Field(), Error: re.Description(), Rule: re.Type()})
		}
		return nil, errs
	}
	return doc, nil
}

// normalize turns form values into a plain object so they validate like JSON.
func normalize(body any) any {
	switch v := body.(type) {
	case nil:
		return map[string]any{}
	case url.Values:
		out := make(map[string]any, len(v))
		for k, vals := range v {
			if len(vals) == 1 {
				out[k] = vals[0]
			} else {
				list := make([]any, len(vals))
				for i, s := range vals {
					list[i] = s
				}
				out[k] = list
			}
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
