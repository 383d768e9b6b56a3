package template

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"fieldops/internal/domain"
)

//go:embed catalog/*.yml
var catalogFS embed.FS

// Store is the static template registry. Templates are authored in YAML,
// loaded once at startup, and resolved by (activity type, property code)
// with a fallback to the generic template for the type.
type Store struct {
	generic    map[domain.ActivityType]domain.ActivityTemplate
	byProperty map[propertyKey]domain.ActivityTemplate
}

type propertyKey struct {
	Type     domain.ActivityType
	Property string
}

// New loads the embedded catalog. Every activity type must have a generic
// template; property overrides are optional.
func New() (*Store, error) {
	s := &Store{
		generic:    make(map[domain.ActivityType]domain.ActivityTemplate),
		byProperty: make(map[propertyKey]domain.ActivityTemplate),
	}
	entries, err := fs.ReadDir(catalogFS, "catalog")
	if err != nil {
		return nil, err
	}
	for _, f := range entries {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".yml") {
			continue
		}
		data, err := catalogFS.ReadFile("catalog/" + f.Name())
		if err != nil {
			return nil, err
		}
		tpl, err := FromYAML(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", f.Name(), err)
		}
		if err := s.add(tpl); err != nil {
			return nil, fmt.Errorf("template %s: %w", f.Name(), err)
		}
	}
	for _, t := range domain.ActivityTypes() {
		if _, ok := s.generic[t]; !ok {
			return nil, fmt.Errorf("catalog missing generic template for %s", t)
		}
	}
	return s, nil
}

func (s *Store) add(tpl domain.ActivityTemplate) error {
	if tpl.PropertyCode == "" {
		if _, dup := s.generic[tpl.Type]; dup {
			return fmt.Errorf("duplicate generic template for %s", tpl.Type)
		}
		s.generic[tpl.Type] = tpl
		return nil
	}
	key := propertyKey{Type: tpl.Type, Property: tpl.PropertyCode}
	if _, dup := s.byProperty[key]; dup {
		return fmt.Errorf("duplicate template for %s property %s", tpl.Type, tpl.PropertyCode)
	}
	s.byProperty[key] = tpl
	return nil
}

// Resolve returns the property-specific template when one exists, else the
// generic one. Total for valid activity types.
func (s *Store) Resolve(t domain.ActivityType, propertyCode string) (domain.ActivityTemplate, error) {
	if !t.IsValid() {
		return domain.ActivityTemplate{}, fmt.Errorf("unknown activity type %q", t)
	}
	if propertyCode != "" {
		if tpl, ok := s.byProperty[propertyKey{Type: t, Property: propertyCode}]; ok {
			return tpl, nil
		}
	}
	tpl, ok := s.generic[t]
	if !ok {
		return domain.ActivityTemplate{}, fmt.Errorf("no template for activity type %q", t)
	}
	return tpl, nil
}

// Templates lists every template in the catalog, generic first, in a fixed
// order.
func (s *Store) Templates() []domain.ActivityTemplate {
	out := make([]domain.ActivityTemplate, 0, len(s.generic)+len(s.byProperty))
	for _, t := range domain.ActivityTypes() {
		if tpl, ok := s.generic[t]; ok {
			out = append(out, tpl)
		}
	}
	keys := make([]propertyKey, 0, len(s.byProperty))
	for k := range s.byProperty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Property < keys[j].Property
	})
	for _, k := range keys {
		out = append(out, s.byProperty[k])
	}
	return out
}

// FromYAML parses and validates a single template definition.
func FromYAML(data []byte) (domain.ActivityTemplate, error) {
	var tpl domain.ActivityTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return tpl, fmt.Errorf("invalid template yaml: %w", err)
	}
	if err := Validate(tpl); err != nil {
		return tpl, err
	}
	return tpl, nil
}

// Flatten returns the template's tasks as one ordered sequence: phase
// order, then room order, then task order. The result is deterministic and
// stable across calls.
func Flatten(tpl domain.ActivityTemplate) []domain.Task {
	if !tpl.Phased() {
		return sortedTasks(tpl.Tasks)
	}
	phases := append([]domain.Phase(nil), tpl.Phases...)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].Order < phases[j].Order })
	var out []domain.Task
	for _, ph := range phases {
		if len(ph.Rooms) > 0 {
			for _, room := range ph.Rooms {
				out = append(out, sortedTasks(room.Tasks)...)
			}
			continue
		}
		out = append(out, sortedTasks(ph.Tasks)...)
	}
	return out
}

// PhaseTasks returns the tasks of one phase in flattened order.
func PhaseTasks(ph domain.Phase) []domain.Task {
	if len(ph.Rooms) > 0 {
		var out []domain.Task
		for _, room := range ph.Rooms {
			out = append(out, sortedTasks(room.Tasks)...)
		}
		return out
	}
	return sortedTasks(ph.Tasks)
}

// SortedPhases returns the template's phases by ascending order field.
func SortedPhases(tpl domain.ActivityTemplate) []domain.Phase {
	phases := append([]domain.Phase(nil), tpl.Phases...)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].Order < phases[j].Order })
	return phases
}

// TaskByID finds a task in the flattened sequence.
func TaskByID(tpl domain.ActivityTemplate, id string) (domain.Task, bool) {
	for _, t := range Flatten(tpl) {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func sortedTasks(tasks []domain.Task) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}
