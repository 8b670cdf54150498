// Package engine implements the execution engine's iteration state
// machine (T1, spec §4.13): it drives one agent plugin against one
// tracker plugin's task queue, one task per iteration, until the
// tracker runs dry, the engine is stopped, or an unrecoverable error
// aborts the run.
package engine

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/autocommit"
	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/envfilter"
	"github.com/ralphtui/ralph/internal/events"
	"github.com/ralphtui/ralph/internal/progresslog"
	"github.com/ralphtui/ralph/internal/sessionlock"
	"github.com/ralphtui/ralph/internal/template"
)

// State is one position in the engine's lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateWaiting      State = "waiting"
	StateStopping     State = "stopping"
)

// ErrorStrategy governs how the engine reacts to a failed iteration.
type ErrorStrategy string

const (
	ErrorStrategySkip  ErrorStrategy = "skip"
	ErrorStrategyRetry ErrorStrategy = "retry"
	ErrorStrategyAbort ErrorStrategy = "abort"
)

// Config configures one engine run.
type Config struct {
	SessionID              string
	Workspace              string
	MaxIterations          int // 0 = unlimited
	IterationTimeout       time.Duration
	ErrorStrategy          ErrorStrategy
	MaxRetries             int
	RetryDelay             time.Duration
	ContinueOnNonZeroExit  bool
	Model                  string
	EnvExcludePatterns     []string // defaults to envfilter.DefaultExcludes when nil
	EnvPassthroughPatterns []string
}

// Engine drives the single-agent iteration loop described by spec §4.13.
type Engine struct {
	cfg     Config
	agent   core.AgentPlugin
	tracker core.TrackerPlugin
	git     *git.Client
	bus     *events.EventBus
	log     *progresslog.Log

	mu       sync.Mutex
	state    State
	stopping bool

	lock  *sessionlock.Lock
	persisted *sessionlock.PersistedState
}

// New returns an Engine ready to Run.
func New(cfg Config, agent core.AgentPlugin, tracker core.TrackerPlugin, gitClient *git.Client, bus *events.EventBus) *Engine {
	if cfg.ErrorStrategy == "" {
		cfg.ErrorStrategy = ErrorStrategySkip
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = 30 * time.Minute
	}
	return &Engine{
		cfg:     cfg,
		agent:   agent,
		tracker: tracker,
		git:     gitClient,
		bus:     bus,
		log:     progresslog.New(progresslog.DefaultPath(cfg.Workspace)),
		state:   StateIdle,
	}
}

// Stop requests cooperative cancellation: the current iteration finishes
// (or honors its own context cancellation) and no new one begins.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
}

func (e *Engine) shouldStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the engine's current lifecycle position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) publish(evt events.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}

// Run executes the iteration loop to completion, resuming from any
// prior resumable PersistedState found in the workspace.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(StateInitializing)

	if pf, err := e.agent.Preflight(ctx); err != nil || !pf.Success {
		e.setState(StateIdle)
		if err != nil {
			return err
		}
		return core.ErrExecution("AGENT_PREFLIGHT_FAILED", pf.Error)
	}

	lock, err := sessionlock.Acquire(e.cfg.Workspace, e.cfg.SessionID, 0)
	if err != nil {
		e.setState(StateIdle)
		return err
	}
	e.lock = lock
	defer func() {
		_ = e.lock.Release()
	}()

	persisted, err := e.resumeOrCreateState(ctx)
	if err != nil {
		e.setState(StateIdle)
		return err
	}
	e.persisted = persisted

	e.publish(events.NewEngineStartedEvent(e.cfg.SessionID, e.cfg.SessionID, e.agent.Meta().ID, e.tracker.Meta().ID))

	e.setState(StateRunning)
	status := sessionlock.StatusCompleted
	iterErr := e.loop(ctx)
	if iterErr != nil {
		status = sessionlock.StatusFailed
	} else if e.shouldStop() {
		status = sessionlock.StatusInterrupted
	}

	e.persisted.Status = status
	_ = sessionlock.SaveState(e.cfg.Workspace, e.persisted)
	if status == sessionlock.StatusCompleted {
		_ = sessionlock.DeleteState(e.cfg.Workspace)
	}

	e.setState(StateIdle)
	e.publish(events.NewEngineStoppedEvent(e.cfg.SessionID, "run finished", string(status)))
	return iterErr
}

func (e *Engine) resumeOrCreateState(ctx context.Context) (*sessionlock.PersistedState, error) {
	existing, err := sessionlock.LoadState(e.cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.Resumable() {
		existing.Status = sessionlock.StatusRunning
		return existing, nil
	}

	return &sessionlock.PersistedState{
		SessionID:     e.cfg.SessionID,
		AgentPlugin:   e.agent.Meta().ID,
		Model:         e.cfg.Model,
		TrackerPlugin: e.tracker.Meta().ID,
		MaxIterations: e.cfg.MaxIterations,
		Cwd:           e.cfg.Workspace,
		StartedAt:     time.Now(),
		Status:        sessionlock.StatusRunning,
	}, nil
}

func (e *Engine) loop(ctx context.Context) error {
	iteration := e.persisted.CurrentIteration
	retries := 0

	for {
		if e.shouldStop() {
			return nil
		}
		if e.cfg.MaxIterations > 0 && iteration >= e.cfg.MaxIterations {
			return nil
		}

		filter := &core.TrackerTaskFilter{Status: []core.TrackerTaskStatus{core.TrackerTaskOpen, core.TrackerTaskInProgress}}
		tasks, err := e.tracker.GetTasks(ctx, filter)
		if err != nil {
			return err
		}
		task := core.PickNext(tasks)
		if task == nil {
			e.publish(events.NewAllCompleteEvent(e.cfg.SessionID, countCompleted(e.persisted)))
			return nil
		}

		iteration++
		result, err := e.runIteration(ctx, iteration, task)
		if err != nil {
			e.publish(events.NewIterationFailedEvent(e.cfg.SessionID, iteration, task.ID, err.Error()))

			switch e.cfg.ErrorStrategy {
			case ErrorStrategyAbort:
				return err
			case ErrorStrategyRetry:
				if retries < e.cfg.MaxRetries {
					retries++
					iteration--
					time.Sleep(time.Duration(retries) * e.cfg.RetryDelay)
					continue
				}
				retries = 0
			case ErrorStrategySkip:
			}
		} else {
			retries = 0
		}

		e.persisted.AppendIteration(sessionlock.IterationSummary{
			Iteration:     iteration,
			TaskID:        task.ID,
			TaskCompleted: result != nil && result.Success,
			DurationMS:    durationMS(result),
			Error:         errString(err),
			At:            time.Now(),
		})
		if err := sessionlock.SaveState(e.cfg.Workspace, e.persisted); err != nil {
			return err
		}
	}
}

func (e *Engine) runIteration(ctx context.Context, iteration int, task *core.TrackerTask) (*progresslog.IterationResult, error) {
	e.publish(events.NewIterationStartedEvent(e.cfg.SessionID, iteration, task.ID, task.Title))
	start := time.Now()

	prompt, err := e.renderPrompt(ctx, task, iteration)
	if err != nil {
		return nil, err
	}

	iterCtx, cancel := context.WithTimeout(ctx, e.cfg.IterationTimeout)
	defer cancel()

	var out strings.Builder
	cb := core.AgentPluginCallbacks{
		OnStdout: func(text string) { out.WriteString(text) },
	}

	excludes := e.cfg.EnvExcludePatterns
	if excludes == nil {
		excludes = envfilter.DefaultExcludes
	}
	opts := core.AgentExecuteOptions{
		Model:   e.cfg.Model,
		WorkDir: e.cfg.Workspace,
		Timeout: e.cfg.IterationTimeout,
		Env:     envfilter.Filter(os.Environ(), excludes, e.cfg.EnvPassthroughPatterns),
	}

	handle, err := e.agent.Execute(iterCtx, prompt, opts, cb)
	if err != nil {
		return nil, err
	}
	agentResult, err := handle.AwaitResult(iterCtx)
	if err != nil {
		return nil, err
	}
	if agentResult.Output != "" {
		out.WriteString(agentResult.Output)
	}

	if !agentResult.Success && !e.cfg.ContinueOnNonZeroExit {
		return nil, core.ErrExecution("AGENT_EXECUTION_FAILED", agentResult.Error)
	}

	taskDone := progresslog.ExtractCompletionMarker(out.String())
	if taskDone {
		if _, err := e.tracker.CompleteTask(ctx, task.ID, "completed by execution engine"); err != nil {
			return nil, err
		}
		e.persisted.MarkCompleted(task.ID)
		autocommit.Commit(ctx, e.git, task.ID, task.Title)
	}

	progress := progresslog.IterationResult{
		Iteration: iteration,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Success:   taskDone,
		Duration:  time.Since(start),
		RawOutput: out.String(),
	}
	if err := e.log.Append(progress); err != nil {
		return nil, err
	}

	e.publish(events.NewIterationCompletedEvent(e.cfg.SessionID, iteration, task.ID, taskDone, time.Since(start).Milliseconds()))
	return &progress, nil
}

func (e *Engine) renderPrompt(ctx context.Context, task *core.TrackerTask, iteration int) (string, error) {
	tmpl, err := e.tracker.GetTemplate(ctx)
	if err != nil {
		return "", err
	}

	recent, err := progresslog.RecentEntries(progresslog.DefaultPath(e.cfg.Workspace), 3)
	if err != nil {
		return "", err
	}

	prdText := ""
	if prd, err := e.tracker.GetPRDContext(ctx); err == nil && prd != nil {
		prdText = prd.Summary
	}

	vars := template.Vars{
		TaskID:          task.ID,
		TaskTitle:       task.Title,
		TaskDescription: task.Description,
		TaskStatus:      string(task.Status),
		TaskPriority:    task.Priority,
		TaskLabels:      task.Labels,
		TaskAcceptance:  strings.Join(task.AcceptanceCriteria, "\n"),
		Iteration:       iteration,
		TotalIterations: e.cfg.MaxIterations,
		ProgressSummary: recent,
		PRDContext:      prdText,
	}
	return template.Render(tmpl, vars), nil
}

func countCompleted(state *sessionlock.PersistedState) int {
	n := 0
	for _, t := range state.Tasks {
		if t.Completed {
			n++
		}
	}
	return n
}

func durationMS(result *progresslog.IterationResult) int64 {
	if result == nil {
		return 0
	}
	return result.Duration.Milliseconds()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
