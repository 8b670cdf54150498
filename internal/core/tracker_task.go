package core

import "time"

// TrackerTaskStatus is the lifecycle state of a task as returned by a
// tracker plugin, distinct from the internal DAG TaskStatus used by the
// multi-agent workflow engine.
type TrackerTaskStatus string

const (
	TrackerTaskOpen       TrackerTaskStatus = "open"
	TrackerTaskInProgress TrackerTaskStatus = "in_progress"
	TrackerTaskCompleted  TrackerTaskStatus = "completed"
	TrackerTaskBlocked    TrackerTaskStatus = "blocked"
	TrackerTaskCancelled  TrackerTaskStatus = "cancelled"
)

// IsTerminal reports whether a task in this status will never be picked
// up by the execution engine again.
func (s TrackerTaskStatus) IsTerminal() bool {
	return s == TrackerTaskCompleted || s == TrackerTaskCancelled
}

// TrackerTask is the unit of work the execution engine iterates over, as
// supplied by a tracker plugin's get_tasks/get_task.
type TrackerTask struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Status             TrackerTaskStatus `json:"status"`
	Priority            int              `json:"priority"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty"`
	Labels             []string          `json:"labels,omitempty"`
	DependsOn          []string          `json:"depends_on,omitempty"`
	Blocks             []string          `json:"blocks,omitempty"`
	ParentID           string            `json:"parent_id,omitempty"`
	Assignee           string            `json:"assignee,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// IsOpen reports whether the task is eligible for selection at all.
func (t *TrackerTask) IsOpen() bool {
	return t.Status == TrackerTaskOpen
}

// IsReady reports whether every task ID in DependsOn is present and
// completed in the given status index.
func (t *TrackerTask) IsReady(completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// HasLabel reports whether label appears in t.Labels.
func (t *TrackerTask) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Validate checks the minimal invariants a tracker plugin must uphold.
func (t *TrackerTask) Validate() error {
	if t.ID == "" {
		return ErrValidation(CodeMissingTasks, "task id is required")
	}
	if t.Title == "" {
		return ErrValidation(CodeMissingTasks, "task title is required")
	}
	switch t.Status {
	case TrackerTaskOpen, TrackerTaskInProgress, TrackerTaskCompleted, TrackerTaskBlocked, TrackerTaskCancelled:
	default:
		return ErrValidation("INVALID_TASK_STATUS", "unrecognized task status: "+string(t.Status))
	}
	return nil
}

// TrackerTaskFilter narrows GetTasks results. A zero value matches every
// open task.
type TrackerTaskFilter struct {
	Status []TrackerTaskStatus
	Labels []string
}

// Matches reports whether t satisfies f. An empty Status list matches
// any status; an empty Labels list matches any task.
func (f TrackerTaskFilter) Matches(t *TrackerTask) bool {
	if len(f.Status) > 0 {
		ok := false
		for _, s := range f.Status {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, l := range f.Labels {
		if !t.HasLabel(l) {
			return false
		}
	}
	return true
}

// PickNext selects the highest-priority open, ready task among tasks,
// tiebreaking on (oldest UpdatedAt, ID) ascending, per the execution
// engine's task-selection rule. Returns nil if none are ready.
func PickNext(tasks []*TrackerTask) *TrackerTask {
	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == TrackerTaskCompleted {
			completed[t.ID] = true
		}
	}

	var best *TrackerTask
	for _, t := range tasks {
		if !t.IsOpen() || !t.IsReady(completed) {
			continue
		}
		if best == nil || isHigherPriority(t, best) {
			best = t
		}
	}
	return best
}

func isHigherPriority(a, b *TrackerTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}
