// Package registry implements the "explicit registration" plugin-selection
// pattern called for by the auth core's design notes: a builder that
// accepts a list of plugin values implementing a narrow capability set
// {name, priority, isAvailable}, selecting the configured-by-name plugin
// first, else falling back to the highest-priority available one.
//
// This replaces container-scanned plugin discovery (the source's runtime
// reflection approach) with a small, generic, compile-time-checked registry
// reused by both the token-validator plugin set (validator package) and the
// claims-translation provider set (rbac package).
package registry

import "sort"

// Plugin is the minimal capability every registered strategy must expose.
type Plugin interface {
	Name() string
	Priority() int
	IsAvailable() bool
}

// Registry holds a fixed set of plugins, sorted by descending priority.
type Registry[P Plugin] struct {
	plugins []P
}

// New builds a Registry from the given plugins, pre-sorted by descending
// priority (ties keep registration order, i.e. a stable sort).
func New[P Plugin](plugins ...P) *Registry[P] {
	sorted := make([]P, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Registry[P]{plugins: sorted}
}

// All returns the plugins in priority order (highest first).
func (r *Registry[P]) All() []P {
	return r.plugins
}

// ByName returns the plugin registered under name, if any.
func (r *Registry[P]) ByName(name string) (P, bool) {
	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	var zero P
	return zero, false
}

// Select implements "configured by name first, else highest-priority
// available" (spec.md §4.9, §4.11, Design Notes §9).
func (r *Registry[P]) Select(configuredName string) (P, bool) {
	if configuredName != "" {
		if p, ok := r.ByName(configuredName); ok && p.IsAvailable() {
			return p, true
		}
	}
	for _, p := range r.plugins {
		if p.IsAvailable() {
			return p, true
		}
	}
	var zero P
	return zero, false
}

// Available returns every available plugin, in priority order.
func (r *Registry[P]) Available() []P {
	out := make([]P, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}
