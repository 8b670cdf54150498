// Package merge implements the sequential merge queue that lands parallel
// workers' branches onto the main workspace, one at a time, with a backup
// tag ahead of every mutation so any failure mode rolls back cleanly.
package merge

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/events"
)

// Status is the lifecycle state of a MergeOperation.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusConflicted Status = "conflicted"
	StatusRolledBack Status = "rolled_back"
)

// Strategy records which merge technique landed an operation.
type Strategy string

const (
	StrategyFastForward Strategy = "fast-forward"
	StrategyMergeCommit Strategy = "merge-commit"
)

// WorkerResult is what a parallel worker hands the queue once its task
// finishes in its own worktree.
type WorkerResult struct {
	TaskID     core.TaskID
	TaskTitle  string
	BranchName string
	WorkflowID string
}

// Operation is a single merge queue entry and its outcome, mirroring the
// owned-by-merge-engine MergeOperation record.
type Operation struct {
	ID              string
	Worker          WorkerResult
	Status          Status
	BackupTag       string
	SourceBranch    string
	CommitMessage   string
	Strategy        Strategy
	CommitSHA       string
	FilesChanged    []string
	ConflictedFiles []string
	QueuedAt        time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Error           string
}

// conflictStatusCodes are the `git status --porcelain` prefixes that mean
// an unresolved conflict, per the two-letter XY status format.
var conflictStatusCodes = map[string]bool{
	"UU": true, "AA": true, "DD": true, "AU": true, "UA": true,
}

// refFormatRe enforces a conservative subset of valid git ref names:
// no "..", no leading dot, no trailing dot or ".lock", no control
// characters, none of `~^:?*[\`, and no "@{".
var refFormatRe = regexp.MustCompile(`^[^\x00-\x1f~^:?*\[\\]+$`)

func validRefName(name string) bool {
	if name == "" {
		return false
	}
	if !refFormatRe.MatchString(name) {
		return false
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}
	if len(name) >= 5 && name[len(name)-5:] == ".lock" {
		return false
	}
	if contains(name, "..") || contains(name, "@{") {
		return false
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// Engine is the FIFO merge queue. A single operation is ever in flight;
// processAll drains the queue sequentially regardless of how many
// workers enqueue concurrently.
type Engine struct {
	mu         sync.Mutex
	git        *git.Client
	bus        *events.EventBus
	workflowID string
	sessionTag string
	queue      []*Operation
	history    []*Operation
	processing bool
}

// New creates a merge Engine bound to a single git repository. Callers
// must call StartSession once before enqueueing any operation.
func New(client *git.Client, bus *events.EventBus, workflowID string) *Engine {
	return &Engine{
		git:        client,
		bus:        bus,
		workflowID: workflowID,
	}
}

// StartSession tags current HEAD as the whole-session rollback point.
func (e *Engine) StartSession(ctx context.Context, sessionID string) error {
	tag := "ralph/session-start/" + sessionID
	if !validRefName(tag) {
		return core.ErrValidation("MERGE_INVALID_REF", "invalid session tag: "+tag)
	}
	if err := e.git.CreateTag(ctx, tag, ""); err != nil {
		return core.ErrExecution("MERGE_SESSION_TAG_FAILED", "creating session-start tag").WithCause(err)
	}
	e.mu.Lock()
	e.sessionTag = tag
	e.mu.Unlock()
	return nil
}

// Enqueue adds a worker's completed branch to the merge queue and returns
// its queued Operation. It does not process the queue; call ProcessAll
// (or ProcessNext) to drain it.
func (e *Engine) Enqueue(result WorkerResult) *Operation {
	op := &Operation{
		ID:           fmt.Sprintf("merge-%s-%d", result.TaskID, time.Now().UnixNano()),
		Worker:       result,
		Status:       StatusQueued,
		SourceBranch: result.BranchName,
		QueuedAt:     time.Now(),
	}
	e.mu.Lock()
	e.queue = append(e.queue, op)
	e.mu.Unlock()

	e.publish(events.NewMergeQueuedEvent(e.workflowID, op.ID, string(result.TaskID), result.BranchName))
	return op
}

// ProcessAll drains the queue sequentially, processing operations in
// arrival order regardless of which worker finished first.
func (e *Engine) ProcessAll(ctx context.Context) error {
	for {
		op := e.dequeue()
		if op == nil {
			return nil
		}
		if err := e.process(ctx, op); err != nil {
			return err
		}
	}
}

// ProcessNext processes a single queued operation; it is a no-op while
// another operation is already in flight.
func (e *Engine) ProcessNext(ctx context.Context) error {
	e.mu.Lock()
	if e.processing {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	op := e.dequeue()
	if op == nil {
		return nil
	}
	return e.process(ctx, op)
}

func (e *Engine) dequeue() *Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	op := e.queue[0]
	e.queue = e.queue[1:]
	return op
}

func (e *Engine) process(ctx context.Context, op *Operation) error {
	e.mu.Lock()
	e.processing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.processing = false
		e.history = append(e.history, op)
		e.mu.Unlock()
	}()

	if !validRefName(op.SourceBranch) {
		return e.fail(op, core.ErrValidation("MERGE_INVALID_REF", "invalid source branch: "+op.SourceBranch))
	}

	ahead, err := e.git.RevListCount(ctx, "HEAD", op.SourceBranch)
	if err != nil {
		return e.fail(op, core.ErrExecution("MERGE_REVLIST_FAILED", "checking commits ahead").WithCause(err))
	}
	if ahead == 0 {
		return e.fail(op, core.ErrState("MERGE_NOTHING_TO_MERGE", "source branch has no commits ahead of HEAD"))
	}

	op.BackupTag = fmt.Sprintf("ralph/pre-merge/%s/%d", op.Worker.TaskID, time.Now().UnixMilli())
	if !validRefName(op.BackupTag) {
		return e.fail(op, core.ErrValidation("MERGE_INVALID_REF", "invalid backup tag: "+op.BackupTag))
	}
	if err := e.git.CreateTag(ctx, op.BackupTag, ""); err != nil {
		return e.fail(op, core.ErrExecution("MERGE_BACKUP_TAG_FAILED", "creating backup tag").WithCause(err))
	}

	op.Status = StatusInProgress
	op.StartedAt = time.Now()
	e.publish(events.NewMergeStartedEvent(e.workflowID, op.ID, op.BackupTag))

	if ffErr := e.git.MergeFastForwardOnly(ctx, op.SourceBranch); ffErr == nil {
		op.Strategy = StrategyFastForward
		files, _ := e.git.DiffFiles(ctx, op.BackupTag, "HEAD")
		op.FilesChanged = files
		return e.complete(op)
	}

	op.CommitMessage = fmt.Sprintf("feat(%s): %s", op.Worker.TaskID, op.Worker.TaskTitle)
	mergeErr := e.git.MergeCommit(ctx, op.SourceBranch, op.CommitMessage)
	if mergeErr == nil {
		sha, _ := e.git.RevParse(ctx, "HEAD")
		op.Strategy = StrategyMergeCommit
		op.CommitSHA = sha
		return e.complete(op)
	}

	hasConflicts, _ := e.git.HasMergeConflicts(ctx)
	if hasConflicts {
		files, _ := e.git.GetConflictFiles(ctx)
		op.ConflictedFiles = files
		_ = e.git.AbortMerge(ctx)
		_ = e.git.ResetHard(ctx, op.BackupTag)
		op.Status = StatusConflicted
		op.CompletedAt = time.Now()
		e.publish(events.NewConflictDetectedEvent(e.workflowID, op.ID, string(op.Worker.TaskID), files))
		op.Error = "merge conflict"
		return nil
	}

	_ = e.git.ResetHard(ctx, op.BackupTag)
	return e.fail(op, core.ErrExecution("MERGE_FAILED", "merge failed for unknown reason").WithCause(mergeErr))
}

func (e *Engine) complete(op *Operation) error {
	op.Status = StatusCompleted
	op.CompletedAt = time.Now()
	e.publish(events.NewMergeCompletedEvent(e.workflowID, op.ID, string(op.Strategy), op.CommitSHA, op.FilesChanged))
	return nil
}

func (e *Engine) fail(op *Operation, domainErr *core.DomainError) error {
	op.Status = StatusFailed
	op.CompletedAt = time.Now()
	op.Error = domainErr.Error()
	e.publish(events.NewMergeFailedEvent(e.workflowID, op.ID, op.Error))
	return nil
}

func (e *Engine) publish(evt events.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}

// RollbackOperation hard-resets to a completed operation's backup tag and
// marks it rolled back. It does not affect any other operation.
func (e *Engine) RollbackOperation(ctx context.Context, opID string) error {
	e.mu.Lock()
	var target *Operation
	for _, op := range e.history {
		if op.ID == opID {
			target = op
			break
		}
	}
	e.mu.Unlock()

	if target == nil {
		return core.ErrNotFound("merge_operation", opID)
	}
	if err := e.git.ResetHard(ctx, target.BackupTag); err != nil {
		return core.ErrExecution("MERGE_ROLLBACK_FAILED", "resetting to backup tag").WithCause(err)
	}
	target.Status = StatusRolledBack
	e.publish(events.NewMergeRolledBackEvent(e.workflowID, opID, target.BackupTag, false))
	return nil
}

// RollbackSession hard-resets to the session-start tag and marks every
// previously-completed operation rolled back.
func (e *Engine) RollbackSession(ctx context.Context) error {
	e.mu.Lock()
	tag := e.sessionTag
	e.mu.Unlock()

	if tag == "" {
		return core.ErrState("MERGE_NO_SESSION_TAG", "no session-start tag recorded")
	}
	if err := e.git.ResetHard(ctx, tag); err != nil {
		return core.ErrExecution("MERGE_SESSION_ROLLBACK_FAILED", "resetting to session-start tag").WithCause(err)
	}

	e.mu.Lock()
	for _, op := range e.history {
		if op.Status == StatusCompleted {
			op.Status = StatusRolledBack
		}
	}
	e.mu.Unlock()

	e.publish(events.NewMergeRolledBackEvent(e.workflowID, "", tag, true))
	return nil
}

// History returns a snapshot of every operation processed so far, in
// arrival order.
func (e *Engine) History() []*Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Operation, len(e.history))
	copy(out, e.history)
	return out
}

// QueueDepth returns the number of operations still waiting to be processed.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
