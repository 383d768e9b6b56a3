// Package progress derives read-only view state from a template and the
// authoritative task-state map. Everything here is pure; nothing mutates
// the inputs.
package progress

import (
	"math"

	"fieldops/internal/domain"
	"fieldops/internal/template"
)

// Counts is completed/total over a scope, restricted to visible tasks.
type Counts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// Visible reports whether a task participates in the session at all. A
// task with no conditional is always visible; otherwise every specified
// predicate must match the session context.
func Visible(t domain.Task, ctx domain.SessionContext) bool {
	if t.Conditional == nil {
		return true
	}
	if t.Conditional.Season != "" && t.Conditional.Season != ctx.Season {
		return false
	}
	if t.Conditional.Occupancy != "" && t.Conditional.Occupancy != ctx.Occupancy {
		return false
	}
	return true
}

// VisibleTasks filters a flattened task list by the session context,
// preserving order.
func VisibleTasks(tasks []domain.Task, ctx domain.SessionContext) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if Visible(t, ctx) {
			out = append(out, t)
		}
	}
	return out
}

// CanComplete reports whether every dependency of the task is completed.
// The check applies only at the moment of attempting completion; toggling
// a dependency off later does not retroactively uncomplete dependents.
func CanComplete(t domain.Task, states map[string]domain.TaskState) bool {
	for _, dep := range t.Dependencies {
		if !states[dep].Completed {
			return false
		}
	}
	return true
}

// Count tallies completion over any task scope.
func Count(tasks []domain.Task, states map[string]domain.TaskState, ctx domain.SessionContext) Counts {
	var c Counts
	for _, t := range tasks {
		if !Visible(t, ctx) {
			continue
		}
		c.Total++
		if states[t.ID].Completed {
			c.Completed++
		}
	}
	if c.Total > 0 {
		c.Percent = int(math.Round(100 * float64(c.Completed) / float64(c.Total)))
	}
	return c
}

// RequiredCount tallies completion over visible required tasks only,
// regardless of phase, room, or lock state.
func RequiredCount(tasks []domain.Task, states map[string]domain.TaskState, ctx domain.SessionContext) Counts {
	required := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Required {
			required = append(required, t)
		}
	}
	return Count(required, states, ctx)
}

// AllRequiredCompleted is the single predicate gating activity completion.
func AllRequiredCompleted(tpl domain.ActivityTemplate, states map[string]domain.TaskState, ctx domain.SessionContext) bool {
	c := RequiredCount(template.Flatten(tpl), states, ctx)
	return c.Completed == c.Total
}

// PhaseLocked reports whether the phase at index idx is locked. The first
// phase is never locked; any later phase is locked while the previous
// phase still has an incomplete visible task.
func PhaseLocked(phases []domain.Phase, idx int, states map[string]domain.TaskState, ctx domain.SessionContext) bool {
	if idx <= 0 || idx >= len(phases) {
		return false
	}
	prev := template.PhaseTasks(phases[idx-1])
	c := Count(prev, states, ctx)
	return c.Completed < c.Total
}

// NextIncomplete selects the task the UI should expand after a successful
// completion: the first incomplete visible task in flattened order. The
// second result is false when nothing remains.
func NextIncomplete(tasks []domain.Task, states map[string]domain.TaskState, ctx domain.SessionContext) (domain.Task, bool) {
	for _, t := range tasks {
		if !Visible(t, ctx) {
			continue
		}
		if !states[t.ID].Completed {
			return t, true
		}
	}
	return domain.Task{}, false
}
