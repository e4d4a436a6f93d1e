package instrument

import (
	"sort"

	"github.com/splax/routedev/internal/domain"
)

// Module is a registered route definition.
type Module struct {
	ID        string
	ParentID  string
	Path      string
	File      string
	Index     bool
	Loader    Handler
	Action    Handler
	Component any
}

// HasLoader reports whether the module exports a loader.
func (m Module) HasLoader() bool { return !m.Loader.IsZero() }

// HasAction reports whether the module exports an action.
func (m Module) HasAction() bool { return !m.Action.IsZero() }

// Table maps route ids to their modules.
type Table map[string]Module

// IDs returns the route ids in lexical order.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AugmentTable returns a copy of t in which every present loader and action
// is wrapped. Modules without handlers are copied unchanged and t itself is
// never modified.
func (a *Augmentor) AugmentTable(t Table) Table {
	out := make(Table, len(t))
	for key, mod := range t {
		id := normalizeRouteID(mod.ID)
		if id == "" {
			id = normalizeRouteID(key)
			mod.ID = id
		}
		if mod.HasLoader() {
			mod.Loader = a.Wrap(id, domain.KindLoader, mod.Loader)
		}
		if mod.HasAction() {
			mod.Action = a.Wrap(id, domain.KindAction, mod.Action)
		}
		out[key] = mod
	}
	return out
}
