package template

import (
	"fmt"

	"fieldops/internal/domain"
)

// Validate checks template invariants at load time: exactly one of
// tasks/phases populated, unique task ids, dependencies resolving within
// the template, an acyclic dependency graph, and sane photo counts.
// Runtime code may assume all of this holds.
func Validate(tpl domain.ActivityTemplate) error {
	if !tpl.Type.IsValid() {
		return fmt.Errorf("invalid activity type %q", tpl.Type)
	}
	if len(tpl.Tasks) > 0 && len(tpl.Phases) > 0 {
		return fmt.Errorf("template has both tasks and phases")
	}
	if len(tpl.Tasks) == 0 && len(tpl.Phases) == 0 {
		return fmt.Errorf("template has neither tasks nor phases")
	}
	seenPhases := map[string]bool{}
	for _, ph := range tpl.Phases {
		if ph.ID == "" {
			return fmt.Errorf("phase with empty id")
		}
		if seenPhases[ph.ID] {
			return fmt.Errorf("duplicate phase id %s", ph.ID)
		}
		seenPhases[ph.ID] = true
		if !ph.Name.IsValid() {
			return fmt.Errorf("phase %s has invalid name %q", ph.ID, ph.Name)
		}
		if len(ph.Tasks) > 0 && len(ph.Rooms) > 0 {
			return fmt.Errorf("phase %s has both tasks and rooms", ph.ID)
		}
		if len(ph.Tasks) == 0 && len(ph.Rooms) == 0 {
			return fmt.Errorf("phase %s has neither tasks nor rooms", ph.ID)
		}
		for _, room := range ph.Rooms {
			if room.ID == "" {
				return fmt.Errorf("phase %s has room with empty id", ph.ID)
			}
			if len(room.Tasks) == 0 {
				return fmt.Errorf("room %s has no tasks", room.ID)
			}
		}
	}

	tasks := Flatten(tpl)
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		if t.Name == "" {
			return fmt.Errorf("task %s has empty name", t.ID)
		}
		if t.PhotoCount < 0 {
			return fmt.Errorf("task %s has negative photo count", t.ID)
		}
		if t.PhotoCount > 0 && !t.PhotoRequired {
			return fmt.Errorf("task %s sets photo_count without photo_required", t.ID)
		}
		if t.Conditional != nil {
			if t.Conditional.Season == "" && t.Conditional.Occupancy == "" {
				return fmt.Errorf("task %s has empty conditional", t.ID)
			}
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("task %s depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}
	return ensureAcyclic(tasks)
}

// ensureAcyclic walks the dependency graph with a three-color DFS.
func ensureAcyclic(tasks []domain.Task) error {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through task %s", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
