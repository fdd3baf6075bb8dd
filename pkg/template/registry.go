package template

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/smallrender/core/pkg/atomicstore"
	"github.com/smallrender/core/pkg/log"
)

// Registry holds every template found under a farm root's templates
// directory (bundled examples plus any user-authored ones alongside them),
// keyed by Template.ID. It is reloaded wholesale rather than watched
// incrementally — templates change rarely, and a full rescan of a
// handful of small JSON files is cheap.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Template
	templates string // directory scanned
}

// NewRegistry creates an empty Registry rooted at dir. Call Reload to
// populate it.
func NewRegistry(dir string) *Registry {
	return &Registry{byID: make(map[string]Template), templates: dir}
}

// Reload rescans the templates directory (recursively, so
// templates/examples/*.json and any sibling user templates are both
// picked up) and replaces the in-memory set atomically.
func (r *Registry) Reload() error {
	found := make(map[string]Template)

	err := filepath.WalkDir(r.templates, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		var tpl Template
		ok, readErr := atomicstore.ReadJSON(path, &tpl)
		if readErr != nil || !ok || tpl.ID == "" {
			log.WithComponent("template-registry").Warn().Str("path", path).Msg("skipping unreadable template file")
			return nil
		}
		found[tpl.ID] = tpl
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.byID = found
	r.mu.Unlock()
	return nil
}

// Lookup resolves a template_id. It satisfies pkg/submission.TemplateLookup.
func (r *Registry) Lookup(templateID string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.byID[templateID]
	return tpl, ok
}

// List returns every known template, sorted by ID for deterministic
// display.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.byID))
	for _, tpl := range r.byID {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
