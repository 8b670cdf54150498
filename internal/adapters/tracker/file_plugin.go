// Package tracker implements the file-backed tracker plugin: tasks,
// prompt template, and PRD context read from a single JSON document on
// disk, per spec's read-only file-backed tracker case.
package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ralphtui/ralph/internal/core"
)

// document is the on-disk shape of a tracker file.
type document struct {
	Tasks    []*core.TrackerTask `json:"tasks"`
	Template string              `json:"template,omitempty"`
	PRD      *core.PRDContext    `json:"prd,omitempty"`
}

// FilePlugin implements core.TrackerPlugin over a single JSON file, e.g.
// `.ralph-tui/tasks.json`. complete_task is a no-op with success=true when
// the document has no mutable backing store configured, matching the
// read-only file-backed contract; when writable is true it rewrites the
// file atomically with the task marked completed.
type FilePlugin struct {
	mu       sync.Mutex
	path     string
	writable bool
}

// NewFilePlugin returns a FilePlugin reading and, if writable, mutating
// path. writable=false means complete_task never touches the file.
func NewFilePlugin(path string, writable bool) *FilePlugin {
	return &FilePlugin{path: path, writable: writable}
}

// DefaultPath returns `<workspace>/.ralph-tui/tasks.json`.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".ralph-tui", "tasks.json")
}

func (p *FilePlugin) Meta() core.TrackerPluginMeta {
	return core.TrackerPluginMeta{ID: "file", Name: "Local task file"}
}

func (p *FilePlugin) GetTasks(ctx context.Context, filter *core.TrackerTaskFilter) ([]*core.TrackerTask, error) {
	doc, err := p.read()
	if err != nil {
		return nil, err
	}

	if filter == nil {
		return doc.Tasks, nil
	}

	out := make([]*core.TrackerTask, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *FilePlugin) GetTask(ctx context.Context, id string) (*core.TrackerTask, error) {
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	for _, t := range doc.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (p *FilePlugin) CompleteTask(ctx context.Context, id string, reason string) (*core.CompleteTaskResult, error) {
	if !p.writable {
		return &core.CompleteTaskResult{Success: true, Message: "read-only tracker; completion recorded by the engine only"}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readLocked()
	if err != nil {
		return nil, err
	}

	found := false
	for _, t := range doc.Tasks {
		if t.ID == id {
			t.Status = core.TrackerTaskCompleted
			found = true
			break
		}
	}
	if !found {
		return &core.CompleteTaskResult{Success: false, Error: "task not found: " + id}, nil
	}

	if err := p.writeLocked(doc); err != nil {
		return &core.CompleteTaskResult{Success: false, Error: err.Error()}, nil
	}
	msg := "task marked completed"
	if reason != "" {
		msg = reason
	}
	return &core.CompleteTaskResult{Success: true, Message: msg}, nil
}

func (p *FilePlugin) GetTemplate(ctx context.Context) (string, error) {
	doc, err := p.read()
	if err != nil {
		return "", err
	}
	if doc.Template != "" {
		return doc.Template, nil
	}
	return builtinTemplate, nil
}

func (p *FilePlugin) GetPRDContext(ctx context.Context) (*core.PRDContext, error) {
	doc, err := p.read()
	if err != nil {
		return nil, err
	}
	return doc.PRD, nil
}

func (p *FilePlugin) read() (*document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLocked()
}

func (p *FilePlugin) readLocked() (*document, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{}, nil
		}
		return nil, core.ErrExecution("TRACKER_FILE_READ_FAILED", "reading task file").WithCause(err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, core.ErrExecution("TRACKER_FILE_PARSE_FAILED", "parsing task file").WithCause(err)
	}
	for _, t := range doc.Tasks {
		if verr := t.Validate(); verr != nil {
			return nil, verr
		}
	}
	return &doc, nil
}

func (p *FilePlugin) writeLocked(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.ErrExecution("TRACKER_FILE_MARSHAL_FAILED", "encoding task file").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o750); err != nil {
		return core.ErrExecution("TRACKER_FILE_DIR_FAILED", "creating task file directory").WithCause(err)
	}
	if err := renameio.WriteFile(p.path, data, 0o600); err != nil {
		return core.ErrExecution("TRACKER_FILE_WRITE_FAILED", "writing task file").WithCause(err)
	}
	return nil
}

const builtinTemplate = `# {{taskTitle}}

{{taskDescription}}

Status: {{taskStatus}} | Priority: {{taskPriority}} | Iteration {{iteration}}/{{totalIterations}}

## Recent progress
{{progressSummary}}

## Acceptance criteria
{{taskAcceptance}}

When the task is fully done, end your output with <promise>COMPLETE</promise>.
`

var _ core.TrackerPlugin = (*FilePlugin)(nil)
