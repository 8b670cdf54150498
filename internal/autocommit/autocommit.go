// Package autocommit implements M5: after a fully completed iteration in
// the main workspace, stage and commit every change with a fixed message
// shape, idempotently skipping when the tree is already clean.
package autocommit

import (
	"context"
	"fmt"

	"github.com/ralphtui/ralph/internal/adapters/git"
)

// Result is the outcome of one Commit call.
type Result struct {
	Committed  bool
	SkipReason string
	SHA        string
	Error      string
}

// Commit stages all changes in client's workspace and commits them with
// message `feat: <taskID> - <taskTitle>`. A clean tree is reported as a
// successful no-op, per spec §4.12; git failures are returned in Result,
// not as an error, since callers treat this step as non-fatal.
func Commit(ctx context.Context, client *git.Client, taskID, taskTitle string) Result {
	clean, err := client.IsClean(ctx)
	if err != nil {
		return Result{Error: fmt.Sprintf("checking worktree status: %v", err)}
	}
	if clean {
		return Result{Committed: false, SkipReason: "no uncommitted changes"}
	}

	message := fmt.Sprintf("feat: %s - %s", taskID, taskTitle)
	sha, err := client.CommitAll(ctx, message)
	if err != nil {
		return Result{Error: fmt.Sprintf("committing: %v", err)}
	}

	short := sha
	if len(short) > 8 {
		short = short[:8]
	}
	return Result{Committed: true, SHA: short}
}
