package github

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ralphtui/ralph/internal/core"
)

// TrackerPlugin adapts a GitHub repository's issue tracker to the
// core.TrackerPlugin contract, backed by the gh CLI via IssueClientAdapter.
// Tasks map one-to-one onto issues; issue state "closed" maps to
// core.TrackerTaskCompleted, "open" to core.TrackerTaskOpen.
type TrackerPlugin struct {
	issues   *IssueClientAdapter
	template string
}

// NewTrackerPlugin wraps issues as a core.TrackerPlugin. template is the
// Mustache-style prompt template returned by GetTemplate; pass "" to fall
// back to a minimal built-in template.
func NewTrackerPlugin(issues *IssueClientAdapter, template string) *TrackerPlugin {
	return &TrackerPlugin{issues: issues, template: template}
}

func (p *TrackerPlugin) Meta() core.TrackerPluginMeta {
	return core.TrackerPluginMeta{ID: "github", Name: "GitHub Issues"}
}

func (p *TrackerPlugin) GetTasks(ctx context.Context, filter *core.TrackerTaskFilter) ([]*core.TrackerTask, error) {
	state := "open"
	if filter != nil {
		for _, s := range filter.Status {
			if s == core.TrackerTaskCompleted {
				state = "all"
			}
		}
	}

	issues, err := p.issues.ListIssues(ctx, state)
	if err != nil {
		return nil, core.ErrExecution("TRACKER_LIST_FAILED", "listing github issues").WithCause(err)
	}

	tasks := make([]*core.TrackerTask, 0, len(issues))
	for i := range issues {
		task := issueToTask(&issues[i])
		if filter != nil && !filter.Matches(task) {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (p *TrackerPlugin) GetTask(ctx context.Context, id string) (*core.TrackerTask, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil, core.ErrValidation("INVALID_TASK_ID", fmt.Sprintf("github tracker task id must be an issue number, got %q", id))
	}

	issue, err := p.issues.GetIssue(ctx, number)
	if err != nil {
		return nil, core.ErrNotFound("task", id).WithCause(err)
	}
	if issue == nil {
		return nil, nil
	}
	return issueToTask(issue), nil
}

func (p *TrackerPlugin) CompleteTask(ctx context.Context, id string, reason string) (*core.CompleteTaskResult, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return &core.CompleteTaskResult{Success: false, Error: fmt.Sprintf("invalid task id %q", id)}, nil
	}

	if reason != "" {
		if err := p.issues.AddIssueComment(ctx, number, reason); err != nil {
			return &core.CompleteTaskResult{Success: false, Error: err.Error()}, nil
		}
	}
	if err := p.issues.CloseIssue(ctx, number); err != nil {
		return &core.CompleteTaskResult{Success: false, Error: err.Error()}, nil
	}
	return &core.CompleteTaskResult{Success: true, Message: "issue closed"}, nil
}

func (p *TrackerPlugin) GetTemplate(ctx context.Context) (string, error) {
	if p.template != "" {
		return p.template, nil
	}
	return defaultTemplate, nil
}

func (p *TrackerPlugin) GetPRDContext(ctx context.Context) (*core.PRDContext, error) {
	return nil, nil
}

func issueToTask(issue *core.Issue) *core.TrackerTask {
	status := core.TrackerTaskOpen
	if issue.State == "closed" {
		status = core.TrackerTaskCompleted
	}

	task := &core.TrackerTask{
		ID:          strconv.Itoa(issue.Number),
		Title:       issue.Title,
		Description: issue.Body,
		Status:      status,
		Labels:      issue.Labels,
		Assignee:    firstOrEmpty(issue.Assignees),
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	}
	if issue.ParentIssue > 0 {
		task.ParentID = strconv.Itoa(issue.ParentIssue)
	}
	return task
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

const defaultTemplate = `# Task: {{taskTitle}}

{{taskDescription}}

Status: {{taskStatus}} | Priority: {{taskPriority}} | Iteration: {{iteration}}/{{totalIterations}}

## Recent progress
{{progressSummary}}

## Acceptance criteria
{{taskAcceptance}}

When the task is fully done, end your output with <promise>COMPLETE</promise>.
`

var _ core.TrackerPlugin = (*TrackerPlugin)(nil)
