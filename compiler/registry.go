// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Compiler.
type Factory func() (Compiler, error)

// Registry maps compiler names to factories. One registry is built per
// process and passed to the plugin and to the type checker worker, so both
// sides agree on what a compiler name means.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	defaultName string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. The first registered name becomes the default.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("compiler registration requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("compiler %q is already registered", name)
	}
	r.factories[name] = factory
	if r.defaultName == "" {
		r.defaultName = name
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, factory Factory) *Registry {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
	return r
}

// Lookup constructs the compiler registered under name. An empty name
// selects the default.
func (r *Registry) Lookup(name string) (Compiler, error) {
	r.mu.RLock()
	if name == "" {
		name = r.defaultName
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown compiler %q", name)
	}
	return factory()
}

// Default returns the name of the default compiler.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
