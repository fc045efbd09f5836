// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// Constructor opens a ready-to-use adapter.
type Constructor func(ctx context.Context) (storage.Adapter, error)

// Factory maps backend names to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for name.
func (f *Factory) Register(name string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = c
}

// Has reports whether name is registered.
func (f *Factory) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[name]
	return ok
}

// Names returns the registered backend names in sorted order.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check returns a validation error unless name is registered.
func (f *Factory) Check(name string) error {
	if f.Has(name) {
		return nil
	}
	return &core.ValidationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q, expected one of %v", name, f.Names())}
}

// Open constructs the named adapter.
func (f *Factory) Open(ctx context.Context, name string) (storage.Adapter, error) {
	f.mu.RLock()
	c, ok := f.constructors[name]
	f.mu.RUnlock()
	if !ok {
		return nil, f.Check(name)
	}
	return c(ctx)
}
