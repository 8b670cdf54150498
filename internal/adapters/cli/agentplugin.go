package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ralphtui/ralph/internal/core"
)

// EnvSettable is implemented by agents that can accept a pre-filtered base
// environment (see internal/envfilter) in place of os.Environ() for every
// subprocess they spawn.
type EnvSettable interface {
	SetBaseEnv(env []string)
}

// registryAgentPlugin adapts one core.Agent, resolved through a Registry, to
// the core.AgentPlugin contract the execution engine drives. The engine
// never touches cli.Registry or core.Agent directly.
type registryAgentPlugin struct {
	registry *Registry
	name     string
	meta     core.AgentPluginMeta
}

// NewAgentPlugin resolves name through registry and wraps it as an
// AgentPlugin. The underlying agent must already be configured (Configure)
// and registered.
func NewAgentPlugin(registry *Registry, name string) (core.AgentPlugin, error) {
	agent, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("resolving agent plugin %q: %w", name, err)
	}

	caps := agent.Capabilities()
	streamCfg := GetStreamConfig(name)

	return &registryAgentPlugin{
		registry: registry,
		name:     name,
		meta: core.AgentPluginMeta{
			ID:                      name,
			Name:                    agent.Name(),
			DefaultCommand:          name,
			SupportsStreaming:       caps.SupportsStreaming && streamCfg.Method != StreamMethodNone,
			SupportsInterrupt:       false,
			SupportsFileContext:     caps.SupportsTools,
			SupportsSubagentTracing: false,
			StructuredOutputFormat:  structuredOutputFormat(streamCfg),
		},
	}, nil
}

func structuredOutputFormat(cfg StreamConfig) string {
	if cfg.Method == StreamMethodJSONStdout {
		return "jsonl"
	}
	return ""
}

func (p *registryAgentPlugin) Meta() core.AgentPluginMeta {
	return p.meta
}

func (p *registryAgentPlugin) Detect(ctx context.Context) bool {
	agent, err := p.registry.Get(p.name)
	if err != nil {
		return false
	}
	return agent.Ping(ctx) == nil
}

func (p *registryAgentPlugin) Preflight(ctx context.Context) (*core.PreflightResult, error) {
	start := time.Now()
	agent, err := p.registry.Get(p.name)
	if err != nil {
		return &core.PreflightResult{
			Success:    false,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      err.Error(),
			Suggestion: fmt.Sprintf("enable %q under agents in the config file", p.name),
		}, nil
	}

	pingErr := agent.Ping(ctx)
	elapsed := time.Since(start).Milliseconds()
	if pingErr != nil {
		return &core.PreflightResult{
			Success:    false,
			DurationMS: elapsed,
			Error:      pingErr.Error(),
			Suggestion: fmt.Sprintf("verify the %q CLI is installed on PATH and authenticated", p.name),
		}, nil
	}

	return &core.PreflightResult{Success: true, DurationMS: elapsed}, nil
}

// agentPluginHandle tracks one in-flight Execute call.
type agentPluginHandle struct {
	done   chan struct{}
	result *core.AgentResult
	err    error
}

func (h *agentPluginHandle) AwaitResult(ctx context.Context) (*core.AgentResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *agentPluginHandle) Interrupt() error {
	return core.ErrExecution("INTERRUPT_UNSUPPORTED", "this agent does not support interrupting an in-flight execution")
}

func (p *registryAgentPlugin) Execute(ctx context.Context, prompt string, opts core.AgentExecuteOptions, cb core.AgentPluginCallbacks) (core.AgentHandle, error) {
	agent, err := p.registry.Get(p.name)
	if err != nil {
		return nil, err
	}

	if opts.Env != nil {
		if es, ok := agent.(EnvSettable); ok {
			es.SetBaseEnv(opts.Env)
		}
	}

	if cb.OnStdout != nil || cb.OnJSONLMessage != nil || cb.OnStderr != nil {
		if err := p.registry.SetEventHandlerForAgent(p.name, func(evt core.AgentEvent) {
			translateAgentEvent(evt, cb)
		}); err != nil {
			return nil, fmt.Errorf("wiring stream callbacks for %q: %w", p.name, err)
		}
	}

	handle := &agentPluginHandle{done: make(chan struct{})}
	execOpts := core.ExecuteOptions{
		Prompt:  prompt,
		Model:   opts.Model,
		Timeout: opts.Timeout,
		WorkDir: opts.WorkDir,
		Format:  core.OutputFormatText,
	}

	if cb.OnStart != nil {
		cb.OnStart()
	}

	go func() {
		defer close(handle.done)

		res, execErr := agent.Execute(ctx, execOpts)
		out := &core.AgentResult{}
		if execErr != nil {
			out.Success = false
			out.Error = execErr.Error()
			handle.err = execErr
		} else {
			out.Success = true
			out.Output = res.Output
			out.TokensIn = res.TokensIn
			out.TokensOut = res.TokensOut
			out.CostUSD = res.CostUSD
		}
		handle.result = out

		if cb.OnEnd != nil {
			cb.OnEnd(out)
		}
	}()

	return handle, nil
}

func translateAgentEvent(evt core.AgentEvent, cb core.AgentPluginCallbacks) {
	switch evt.Type {
	case core.AgentEventStarted:
		if cb.OnStart != nil {
			cb.OnStart()
		}
	case core.AgentEventChunk, core.AgentEventProgress, core.AgentEventThinking:
		if cb.OnStdout != nil {
			cb.OnStdout(evt.Message)
		}
	case core.AgentEventToolUse:
		if cb.OnJSONLMessage != nil {
			obj := map[string]interface{}{"type": "tool_use", "message": evt.Message}
			for k, v := range evt.Data {
				obj[k] = v
			}
			cb.OnJSONLMessage(obj)
		}
	case core.AgentEventError:
		if cb.OnStderr != nil {
			cb.OnStderr(evt.Message)
		}
	}
}

var _ core.AgentPlugin = (*registryAgentPlugin)(nil)
