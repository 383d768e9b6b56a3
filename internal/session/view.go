package session

import (
	"fieldops/internal/domain"
	"fieldops/internal/progress"
	"fieldops/internal/template"
)

// TaskView pairs a template task with its runtime state.
type TaskView struct {
	Task        domain.Task      `json:"task"`
	State       domain.TaskState `json:"state"`
	CanComplete bool             `json:"can_complete"`
}

type RoomView struct {
	Room   domain.Room     `json:"room"`
	Tasks  []TaskView      `json:"tasks"`
	Counts progress.Counts `json:"counts"`
}

type PhaseView struct {
	ID     string           `json:"id"`
	Name   domain.PhaseName `json:"name"`
	Locked bool             `json:"locked"`
	Counts progress.Counts  `json:"counts"`
	Tasks  []TaskView       `json:"tasks,omitempty"`
	Rooms  []RoomView       `json:"rooms,omitempty"`
}

// Snapshot is the read-only view the controller derives for consumers.
type Snapshot struct {
	SessionKey    string              `json:"session_key"`
	ActivityID    string              `json:"activity_id"`
	HomeID        string              `json:"home_id"`
	Type          domain.ActivityType `json:"type"`
	State         domain.SessionState `json:"state"`
	Counts        progress.Counts     `json:"counts"`
	Required      progress.Counts     `json:"required"`
	ReadyToFinish bool                `json:"ready_to_finish"`
	CurrentTask   string              `json:"current_task,omitempty"`
	ActivityNotes string              `json:"activity_notes,omitempty"`
	Tasks         []TaskView          `json:"tasks,omitempty"`
	Phases        []PhaseView         `json:"phases,omitempty"`
}

// View derives the current snapshot. Safe to call from any goroutine.
func (c *Controller) View() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		SessionKey:    c.draft.SessionKey,
		ActivityID:    c.draft.ActivityID,
		HomeID:        c.draft.HomeID,
		Type:          c.draft.Type,
		State:         c.state,
		CurrentTask:   c.current,
		ActivityNotes: c.draft.ActivityNotes,
	}
	if c.state == domain.SessionNotStarted {
		return snap
	}
	snap.Counts = progress.Count(c.tasks, c.draft.TaskStates, c.sctx)
	snap.Required = progress.RequiredCount(c.tasks, c.draft.TaskStates, c.sctx)
	snap.ReadyToFinish = snap.Required.Completed == snap.Required.Total

	if !c.tpl.Phased() {
		snap.Tasks = c.taskViews(c.tasks)
		return snap
	}
	phases := template.SortedPhases(c.tpl)
	for i, ph := range phases {
		pv := PhaseView{
			ID:     ph.ID,
			Name:   ph.Name,
			Locked: progress.PhaseLocked(phases, i, c.draft.TaskStates, c.sctx),
			Counts: progress.Count(template.PhaseTasks(ph), c.draft.TaskStates, c.sctx),
		}
		if len(ph.Rooms) > 0 {
			for _, room := range ph.Rooms {
				pv.Rooms = append(pv.Rooms, RoomView{
					Room:   room,
					Tasks:  c.taskViews(room.Tasks),
					Counts: progress.Count(room.Tasks, c.draft.TaskStates, c.sctx),
				})
			}
		} else {
			pv.Tasks = c.taskViews(ph.Tasks)
		}
		snap.Phases = append(snap.Phases, pv)
	}
	return snap
}

func (c *Controller) taskViews(tasks []domain.Task) []TaskView {
	var out []TaskView
	for _, t := range progress.VisibleTasks(tasks, c.sctx) {
		out = append(out, TaskView{
			Task:        t,
			State:       c.draft.TaskStates[t.ID],
			CanComplete: progress.CanComplete(t, c.draft.TaskStates),
		})
	}
	return out
}
