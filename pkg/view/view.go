// Package view maps view names to compiled generators. Templates are
// compiled ahead of time (templ); this package only looks them up and
// renders them.
package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/a-h/templ"
)

// ErrNotFound is returned when no generator is registered under a name.
var ErrNotFound = errors.New("view: not found")

// Generator builds the component for one render from the action's model.
type Generator func(model any) templ.Component

// Renderer resolves view names.
type Renderer interface {
	Lookup(name string) (Generator, bool)
}

// Registry is a concurrency safe Renderer.
type Registry struct {
	views map[string]Generator
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]Generator)}
}

// Add registers gen under name, replacing any previous one.
func (r *Registry) Add(name string, gen Generator) {
	r.mu.Lock()
	r.views[name] = gen
	r.mu.Unlock()
}

// Static registers a component that does not depend on the model.
func (r *Registry) Static(name string, c templ.Component) {
	r.Add(name, func(any) templ.Component { return c })
}

// Remove unregisters name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.views, name)
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.views[name]
	return gen, ok
}

// Render looks name up and renders it to w.
func Render(ctx context.Context, r Renderer, w io.Writer, name string, model any) error {
	if r == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	gen, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return gen(model).Render(ctx, w)
}

// RenderBytes renders into memory, so a failing view never leaves a
// half written response behind.
func RenderBytes(ctx context.Context, r Renderer, name string, model any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(ctx, r, &buf, name, model); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
