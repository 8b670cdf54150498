package events

// Event type constants for the execution engine's lifecycle (T1) and the
// parallel executor's worker lifecycle (T2).
const (
	TypeEngineStarted      = "engine_started"
	TypeIterationStarted   = "iteration_started"
	TypeIterationCompleted = "iteration_completed"
	TypeIterationFailed    = "iteration_failed"
	TypeEngineStopped      = "engine_stopped"
	TypeAllComplete        = "all_complete"
	TypeWorkerStarted      = "worker_started"
	TypeWorkerFinished     = "worker_finished"
)

// EngineStartedEvent is emitted once when the iteration loop begins.
type EngineStartedEvent struct {
	BaseEvent
	SessionID    string `json:"session_id"`
	AgentPlugin  string `json:"agent_plugin"`
	TrackerPlugin string `json:"tracker_plugin"`
}

func NewEngineStartedEvent(workflowID, sessionID, agentPlugin, trackerPlugin string) EngineStartedEvent {
	return EngineStartedEvent{
		BaseEvent:     NewBaseEvent(TypeEngineStarted, workflowID, ""),
		SessionID:     sessionID,
		AgentPlugin:   agentPlugin,
		TrackerPlugin: trackerPlugin,
	}
}

// IterationStartedEvent is emitted as each iteration selects its task.
type IterationStartedEvent struct {
	BaseEvent
	Iteration int    `json:"iteration"`
	TaskID    string `json:"task_id"`
	TaskTitle string `json:"task_title"`
}

func NewIterationStartedEvent(workflowID string, iteration int, taskID, taskTitle string) IterationStartedEvent {
	return IterationStartedEvent{
		BaseEvent: NewBaseEvent(TypeIterationStarted, workflowID, ""),
		Iteration: iteration,
		TaskID:    taskID,
		TaskTitle: taskTitle,
	}
}

// IterationCompletedEvent is emitted when an iteration finishes, regardless
// of whether the task itself was completed.
type IterationCompletedEvent struct {
	BaseEvent
	Iteration     int    `json:"iteration"`
	TaskID        string `json:"task_id"`
	TaskCompleted bool   `json:"task_completed"`
	DurationMS    int64  `json:"duration_ms"`
}

func NewIterationCompletedEvent(workflowID string, iteration int, taskID string, taskCompleted bool, durationMS int64) IterationCompletedEvent {
	return IterationCompletedEvent{
		BaseEvent:     NewBaseEvent(TypeIterationCompleted, workflowID, ""),
		Iteration:     iteration,
		TaskID:        taskID,
		TaskCompleted: taskCompleted,
		DurationMS:    durationMS,
	}
}

// IterationFailedEvent is emitted when an iteration errors out.
type IterationFailedEvent struct {
	BaseEvent
	Iteration int    `json:"iteration"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
}

func NewIterationFailedEvent(workflowID string, iteration int, taskID, errMsg string) IterationFailedEvent {
	return IterationFailedEvent{
		BaseEvent: NewBaseEvent(TypeIterationFailed, workflowID, ""),
		Iteration: iteration,
		TaskID:    taskID,
		Error:     errMsg,
	}
}

// AllCompleteEvent is emitted when task selection finds nothing left to do.
type AllCompleteEvent struct {
	BaseEvent
	TasksCompleted int `json:"tasks_completed"`
}

func NewAllCompleteEvent(workflowID string, tasksCompleted int) AllCompleteEvent {
	return AllCompleteEvent{
		BaseEvent:      NewBaseEvent(TypeAllComplete, workflowID, ""),
		TasksCompleted: tasksCompleted,
	}
}

// EngineStoppedEvent is the final event of a run, successful or not.
type EngineStoppedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
	Status string `json:"status"`
}

func NewEngineStoppedEvent(workflowID, reason, status string) EngineStoppedEvent {
	return EngineStoppedEvent{
		BaseEvent: NewBaseEvent(TypeEngineStopped, workflowID, ""),
		Reason:    reason,
		Status:    status,
	}
}

// WorkerStartedEvent is emitted by the parallel executor (T2) when a worker
// acquires its worktree and begins its single-task iteration.
type WorkerStartedEvent struct {
	BaseEvent
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Branch   string `json:"branch"`
}

func NewWorkerStartedEvent(workflowID, workerID, taskID, branch string) WorkerStartedEvent {
	return WorkerStartedEvent{
		BaseEvent: NewBaseEvent(TypeWorkerStarted, workflowID, ""),
		WorkerID:  workerID,
		TaskID:    taskID,
		Branch:    branch,
	}
}

// WorkerFinishedEvent is emitted when a worker's iteration completes, before
// its result is enqueued into the merge engine.
type WorkerFinishedEvent struct {
	BaseEvent
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

func NewWorkerFinishedEvent(workflowID, workerID, taskID string, success bool, errMsg string) WorkerFinishedEvent {
	return WorkerFinishedEvent{
		BaseEvent: NewBaseEvent(TypeWorkerFinished, workflowID, ""),
		WorkerID:  workerID,
		TaskID:    taskID,
		Success:   success,
		Error:     errMsg,
	}
}
