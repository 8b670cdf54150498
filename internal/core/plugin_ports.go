package core

import (
	"context"
	"time"
)

// =============================================================================
// Agent Plugin Port — single-agent execution engine contract
// =============================================================================

// AgentPluginMeta describes a single agent plugin's identity and
// capability surface, reported once by Meta() rather than probed.
type AgentPluginMeta struct {
	ID                      string
	Name                    string
	DefaultCommand          string
	SupportsStreaming       bool
	SupportsInterrupt       bool
	SupportsFileContext     bool
	SupportsSubagentTracing bool
	StructuredOutputFormat  string // empty if the agent has none
}

// PreflightResult is returned by Preflight, a fast, side-effect-free
// check that the agent CLI is reachable and authenticated before an
// iteration commits to it.
type PreflightResult struct {
	Success    bool
	DurationMS int64
	Error      string
	Suggestion string // actionable remediation, e.g. "run `claude login`"
}

// AgentExecuteOptions configures one Execute call. Env is the filtered
// environment (see envfilter.Filter) to hand the subprocess — callers
// must filter it themselves before passing it here.
type AgentExecuteOptions struct {
	Files   []string
	Model   string
	Env     []string
	Timeout time.Duration
	WorkDir string
}

// AgentResult is the terminal outcome of one Execute call, delivered
// both via the handle's AwaitResult and the on_end callback.
type AgentResult struct {
	Success   bool
	Output    string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Error     string
}

// AgentPluginCallbacks are invoked during a streaming Execute call. Any
// callback left nil is simply not invoked. OnJSONLMessage receives one
// decoded object per JSONL line the agent emits, when the agent's
// StructuredOutputFormat is non-empty.
type AgentPluginCallbacks struct {
	OnStart         func()
	OnStdout        func(text string)
	OnStderr        func(text string)
	OnJSONLMessage  func(obj map[string]interface{})
	OnEnd           func(result *AgentResult)
}

// AgentHandle represents one in-flight Execute call.
type AgentHandle interface {
	// AwaitResult blocks until the agent finishes, or ctx is cancelled.
	AwaitResult(ctx context.Context) (*AgentResult, error)

	// Interrupt requests early termination. Agents whose meta reports
	// SupportsInterrupt == false return ErrExecution for this call.
	Interrupt() error
}

// AgentPlugin is the contract an execution engine iteration drives: one
// CLI coding agent, wrapped so the engine never depends on agent-specific
// flags or output formats.
type AgentPlugin interface {
	// Meta returns this plugin's static identity and capabilities.
	Meta() AgentPluginMeta

	// Detect reports whether the underlying CLI binary is present on
	// PATH (or at its configured path), without invoking it.
	Detect(ctx context.Context) bool

	// Preflight runs a minimal round-trip (e.g. a version/auth check)
	// to confirm the agent is usable before committing an iteration.
	Preflight(ctx context.Context) (*PreflightResult, error)

	// Execute starts the agent on prompt and returns immediately with a
	// handle; streaming output arrives via cb as it's produced.
	Execute(ctx context.Context, prompt string, opts AgentExecuteOptions, cb AgentPluginCallbacks) (AgentHandle, error)
}

// =============================================================================
// Tracker Plugin Port — task source for the execution engine
// =============================================================================

// TrackerPluginMeta describes a tracker plugin's identity.
type TrackerPluginMeta struct {
	ID   string
	Name string
}

// CompleteTaskResult is returned by CompleteTask.
type CompleteTaskResult struct {
	Success bool
	Message string
	Error   string
}

// PRDContext is the product-requirements context a tracker can supply to
// ground an agent's prompt beyond the single task at hand.
type PRDContext struct {
	Summary  string
	Goals    []string
	NonGoals []string
}

// TrackerPlugin is the contract the execution engine uses to discover
// work and report completion, independent of whether tasks live in a
// local file, GitHub Issues, or any other tracker.
type TrackerPlugin interface {
	// Meta returns this plugin's static identity.
	Meta() TrackerPluginMeta

	// GetTasks returns every task matching filter. A nil filter returns
	// every task the tracker knows about.
	GetTasks(ctx context.Context, filter *TrackerTaskFilter) ([]*TrackerTask, error)

	// GetTask returns a single task by ID, or nil if it doesn't exist.
	GetTask(ctx context.Context, id string) (*TrackerTask, error)

	// CompleteTask marks a task completed, recording reason if given.
	CompleteTask(ctx context.Context, id string, reason string) (*CompleteTaskResult, error)

	// GetTemplate returns the Mustache-style prompt template to render
	// for each iteration (see internal/template).
	GetTemplate(ctx context.Context) (string, error)

	// GetPRDContext returns supplementary product context, if any.
	GetPRDContext(ctx context.Context) (*PRDContext, error)
}
