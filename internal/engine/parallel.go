package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/events"
	"github.com/ralphtui/ralph/internal/service/merge"
	"github.com/ralphtui/ralph/internal/worktree"
)

// ConflictMode selects how the parallel executor reacts when a worker's
// branch fails to land cleanly in the merge queue.
type ConflictMode string

const (
	ConflictModeAIResolve       ConflictMode = "ai-resolve"
	ConflictModeManual          ConflictMode = "manual"
	ConflictModeAbortTask       ConflictMode = "abort-task"
	ConflictModeRollbackSession ConflictMode = "rollback-session"
)

// ParallelConfig configures one Parallel run.
type ParallelConfig struct {
	WorkflowID   string
	MaxWorkers   int
	ConflictMode ConflictMode
	EngineConfig Config // per-worker iteration-equivalent config; Workspace is overridden per worktree
}

// WorkerOutcome is what one worker reports back to the caller once its
// task either lands or fails.
type WorkerOutcome struct {
	TaskID  string
	Branch  string
	Success bool
	Error   string
}

// Parallel runs up to MaxWorkers concurrent single-task iterations, each
// isolated in its own git worktree, funneling every success into the
// sequential merge queue (M4) as described by spec §4.14.
type Parallel struct {
	cfg       ParallelConfig
	agent     core.AgentPlugin
	tracker   core.TrackerPlugin
	git       *git.Client
	bus       *events.EventBus
	worktrees *worktree.Manager
	mergeQ    *merge.Engine
}

// NewParallel returns a Parallel executor sharing one worktree manager
// and one merge queue across its workers.
func NewParallel(cfg ParallelConfig, agent core.AgentPlugin, tracker core.TrackerPlugin, gitClient *git.Client, bus *events.EventBus, worktrees *worktree.Manager, mergeQueue *merge.Engine) *Parallel {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.ConflictMode == "" {
		cfg.ConflictMode = ConflictModeManual
	}
	return &Parallel{
		cfg:       cfg,
		agent:     agent,
		tracker:   tracker,
		git:       gitClient,
		bus:       bus,
		worktrees: worktrees,
		mergeQ:    mergeQueue,
	}
}

// Run drains tasks with up to MaxWorkers concurrent workers, blocking
// until every task has either landed in the merge queue or failed.
func (p *Parallel) Run(ctx context.Context, tasks []*core.TrackerTask) ([]WorkerOutcome, error) {
	if err := p.mergeQ.StartSession(ctx, p.cfg.WorkflowID); err != nil {
		return nil, err
	}

	queue := make(chan *core.TrackerTask, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	sem := make(chan struct{}, p.cfg.MaxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var outcomes []WorkerOutcome

	for task := range queue {
		task := task
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := p.runWorker(ctx, task)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := p.mergeQ.ProcessAll(ctx); err != nil {
		return outcomes, err
	}
	return outcomes, p.handleConflicts(ctx)
}

// handleConflicts reacts to any conflicted merge-queue operations
// according to cfg.ConflictMode once the queue has fully drained.
// ai-resolve delegation and per-operator manual review are surfaced via
// the merge queue's own `conflict:detected` event; only rollback-session
// requires further action here.
func (p *Parallel) handleConflicts(ctx context.Context) error {
	if p.cfg.ConflictMode != ConflictModeRollbackSession {
		return nil
	}
	for _, op := range p.mergeQ.History() {
		if op.Status == merge.StatusConflicted {
			return p.mergeQ.RollbackSession(ctx)
		}
	}
	return nil
}

func (p *Parallel) publish(evt events.Event) {
	if p.bus != nil {
		p.bus.Publish(evt)
	}
}

func (p *Parallel) runWorker(ctx context.Context, task *core.TrackerTask) WorkerOutcome {
	workerID := fmt.Sprintf("w-%s", task.ID)

	wt, err := p.worktrees.Acquire(ctx, workerID, task.ID)
	if err != nil {
		p.publish(events.NewWorkerFinishedEvent(p.cfg.WorkflowID, workerID, task.ID, false, err.Error()))
		return WorkerOutcome{TaskID: task.ID, Success: false, Error: err.Error()}
	}
	defer func() { _ = p.worktrees.Release(ctx, wt) }()

	p.publish(events.NewWorkerStartedEvent(p.cfg.WorkflowID, workerID, task.ID, wt.Branch))

	workerCfg := p.cfg.EngineConfig
	workerCfg.Workspace = wt.Path
	workerCfg.SessionID = workerID
	workerCfg.MaxIterations = 1

	workerGit, err := git.NewClient(wt.Path)
	if err != nil {
		p.publish(events.NewWorkerFinishedEvent(p.cfg.WorkflowID, workerID, task.ID, false, err.Error()))
		return WorkerOutcome{TaskID: task.ID, Branch: wt.Branch, Success: false, Error: err.Error()}
	}

	singleTaskTracker := &pinnedTaskTracker{inner: p.tracker, task: task}
	eng := New(workerCfg, p.agent, singleTaskTracker, workerGit, p.bus)

	runErr := eng.Run(ctx)
	if runErr != nil {
		p.publish(events.NewWorkerFinishedEvent(p.cfg.WorkflowID, workerID, task.ID, false, runErr.Error()))
		return WorkerOutcome{TaskID: task.ID, Branch: wt.Branch, Success: false, Error: runErr.Error()}
	}

	p.mergeQ.Enqueue(merge.WorkerResult{
		TaskID:     core.TaskID(task.ID),
		TaskTitle:  task.Title,
		BranchName: wt.Branch,
		WorkflowID: p.cfg.WorkflowID,
	})
	p.publish(events.NewWorkerFinishedEvent(p.cfg.WorkflowID, workerID, task.ID, true, ""))
	return WorkerOutcome{TaskID: task.ID, Branch: wt.Branch, Success: true}
}

// pinnedTaskTracker narrows a TrackerPlugin's view to a single task, so a
// worker's embedded Engine instance iterates exactly once over exactly
// the task it was handed.
type pinnedTaskTracker struct {
	inner core.TrackerPlugin
	task  *core.TrackerTask
}

func (t *pinnedTaskTracker) Meta() core.TrackerPluginMeta { return t.inner.Meta() }

func (t *pinnedTaskTracker) GetTasks(ctx context.Context, filter *core.TrackerTaskFilter) ([]*core.TrackerTask, error) {
	if filter != nil && !filter.Matches(t.task) {
		return nil, nil
	}
	return []*core.TrackerTask{t.task}, nil
}

func (t *pinnedTaskTracker) GetTask(ctx context.Context, id string) (*core.TrackerTask, error) {
	if id == t.task.ID {
		return t.task, nil
	}
	return nil, nil
}

func (t *pinnedTaskTracker) CompleteTask(ctx context.Context, id string, reason string) (*core.CompleteTaskResult, error) {
	return t.inner.CompleteTask(ctx, id, reason)
}

func (t *pinnedTaskTracker) GetTemplate(ctx context.Context) (string, error) {
	return t.inner.GetTemplate(ctx)
}

func (t *pinnedTaskTracker) GetPRDContext(ctx context.Context) (*core.PRDContext, error) {
	return t.inner.GetPRDContext(ctx)
}

var _ core.TrackerPlugin = (*pinnedTaskTracker)(nil)
