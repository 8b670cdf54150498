package sessionlock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ralphtui/ralph/internal/core"
)

// Status is the lifecycle status of a persisted session, per spec §3.3.
type Status string

const (
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Resumable reports whether a session in this status may be resumed.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusInterrupted
}

// TaskSnapshot is the per-task progress captured in PersistedState.
type TaskSnapshot struct {
	TaskID    string `json:"task_id"`
	Completed bool   `json:"completed"`
}

// IterationSummary is the append-only history entry recorded per turn.
type IterationSummary struct {
	Iteration     int       `json:"iteration"`
	TaskID        string    `json:"task_id"`
	TaskCompleted bool      `json:"task_completed"`
	DurationMS    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// PersistedState is the engine's durable session record, per spec §3.3.
// Mutation is append-only to IterationHistory plus per-task Completed
// flags; the task set itself is fixed at Initialize.
type PersistedState struct {
	SessionID        string             `json:"session_id"`
	AgentPlugin      string             `json:"agent_plugin"`
	Model            string             `json:"model,omitempty"`
	TrackerPlugin    string             `json:"tracker_plugin"`
	EpicID           string             `json:"epic_id,omitempty"`
	PRDPath          string             `json:"prd_path,omitempty"`
	MaxIterations    int                `json:"max_iterations"`
	Cwd              string             `json:"cwd"`
	StartedAt        time.Time          `json:"started_at"`
	Status           Status             `json:"status"`
	Tasks            []TaskSnapshot     `json:"tasks"`
	CurrentIteration int                `json:"current_iteration"`
	IterationHistory []IterationSummary `json:"iteration_history"`
}

// TaskCompleted reports whether taskID is marked completed in this state.
func (s *PersistedState) TaskCompleted(taskID string) bool {
	for _, t := range s.Tasks {
		if t.TaskID == taskID {
			return t.Completed
		}
	}
	return false
}

// MarkCompleted flips taskID's snapshot to completed, adding one if absent.
func (s *PersistedState) MarkCompleted(taskID string) {
	for i := range s.Tasks {
		if s.Tasks[i].TaskID == taskID {
			s.Tasks[i].Completed = true
			return
		}
	}
	s.Tasks = append(s.Tasks, TaskSnapshot{TaskID: taskID, Completed: true})
}

// AppendIteration records one completed turn and advances CurrentIteration.
func (s *PersistedState) AppendIteration(summary IterationSummary) {
	s.IterationHistory = append(s.IterationHistory, summary)
	s.CurrentIteration = summary.Iteration
}

// StatePath returns `<workspace>/.ralph-tui/session.json`.
func StatePath(workspace string) string {
	return filepath.Join(workspace, ".ralph-tui", "session.json")
}

// LoadState reads the persisted state at StatePath(workspace). A missing
// or empty file is reported as (nil, nil) — "no saved state" — not an
// error, per spec §4.6.
func LoadState(workspace string) (*PersistedState, error) {
	data, err := os.ReadFile(StatePath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrExecution("STATE_READ_FAILED", "reading session state").WithCause(err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		// Partial/corrupted files are tolerated as "no saved state" rather
		// than aborting the run.
		return nil, nil
	}
	return &state, nil
}

// SaveState atomically writes state to StatePath(workspace).
func SaveState(workspace string, state *PersistedState) error {
	path := StatePath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return core.ErrExecution("STATE_DIR_FAILED", "creating session state directory").WithCause(err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return core.ErrExecution("STATE_MARSHAL_FAILED", "encoding session state").WithCause(err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return core.ErrExecution("STATE_WRITE_FAILED", "writing session state").WithCause(err)
	}
	return nil
}

// DeleteState removes the persisted state file, e.g. on successful
// completion so a later run does not see a stale "resumable" session.
func DeleteState(workspace string) error {
	if err := os.Remove(StatePath(workspace)); err != nil && !os.IsNotExist(err) {
		return core.ErrExecution("STATE_DELETE_FAILED", "deleting session state").WithCause(err)
	}
	return nil
}
