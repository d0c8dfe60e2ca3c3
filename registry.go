// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package sofa

import (
	"context"
	"sort"
	"sync"
)

// ViewDefinition names a view, with preset options, and the option names
// bound to positional arguments.
type ViewDefinition struct {
	// View is the view name, in the form accepted by [DB.View].
	View string
	// Presets are options applied to every request.
	Presets Params
	// Args lists the option names which positional arguments are bound to,
	// for example []string{"startkey", "endkey"}.
	Args []string
}

// ViewRegistry maps symbolic names to view definitions. It is typically
// populated at startup.
type ViewRegistry struct {
	mu    sync.RWMutex
	views map[string]*ViewDefinition
}

// NewViewRegistry returns an empty registry.
func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{views: map[string]*ViewDefinition{}}
}

// Register adds a view definition under name. If Register is called twice
// with the same name, or if def is nil, it panics.
func (r *ViewRegistry) Register(name string, def *ViewDefinition) {
	if def == nil {
		panic("sofa: Register view definition is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.views[name]; dup {
		panic("sofa: Register called twice for view " + name)
	}
	r.views[name] = def
}

// Lookup returns the definition registered under name, or nil.
func (r *ViewRegistry) Lookup(name string) *ViewDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.views[name]
}

// Names returns the registered names, sorted.
func (r *ViewRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.views))
	for name := range r.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View returns the results of the view registered under name, against db.
// args are bound, in order, to the definition's Args. opts are applied after
// the presets and arguments.
func (r *ViewRegistry) View(db *DB, name string, args []interface{}, opts ...Option) (*ViewResults, error) {
	def := r.Lookup(name)
	if def == nil {
		return nil, configError("no view registered as %q", name)
	}
	if len(args) > len(def.Args) {
		return nil, configError("view %q takes %d arguments, got %d", name, len(def.Args), len(args))
	}
	bound := Params{}
	for k, v := range def.Presets {
		bound[k] = v
	}
	for i, arg := range args {
		bound[def.Args[i]] = arg
	}
	return db.View(def.View, append([]Option{bound}, opts...)...), nil
}

// Query fetches the rows of the view registered under name, with args bound
// as by [ViewRegistry.View].
func (r *ViewRegistry) Query(ctx context.Context, db *DB, name string, args ...interface{}) (*ResultSet, error) {
	v, err := r.View(db, name, args)
	if err != nil {
		return nil, err
	}
	return v.Rows(ctx)
}
