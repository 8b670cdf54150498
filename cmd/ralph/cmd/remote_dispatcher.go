package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ralphtui/ralph/internal/adapters/cli"
	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/config"
	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/engine"
	"github.com/ralphtui/ralph/internal/events"
	"github.com/ralphtui/ralph/internal/logging"
	"github.com/ralphtui/ralph/internal/registry"
	"github.com/ralphtui/ralph/internal/remoteserver"
	"github.com/ralphtui/ralph/internal/sessionlock"
)

// remoteDispatcher implements remoteserver.Dispatcher by driving T1
// directly: start_run spawns an engine.Engine in the background keyed by
// session id, stop_run requests its cooperative Stop, get_session_state
// reads back L6's persisted state for the session's workspace.
type remoteDispatcher struct {
	logger      *logging.Logger
	loader      *config.Loader
	agents      *cli.Registry
	bus         *events.EventBus
	sessions    *registry.Registry
	projectRoot string

	mu      sync.Mutex
	running map[string]*runningRun
}

type runningRun struct {
	cancel context.CancelFunc
	engine *engine.Engine
}

func newRemoteDispatcher(logger *logging.Logger, loader *config.Loader, agents *cli.Registry, bus *events.EventBus, sessions *registry.Registry, projectRoot string) *remoteDispatcher {
	return &remoteDispatcher{
		logger:      logger,
		loader:      loader,
		agents:      agents,
		bus:         bus,
		sessions:    sessions,
		projectRoot: projectRoot,
		running:     make(map[string]*runningRun),
	}
}

// CheckConfig reports which agents this daemon can currently drive.
func (d *remoteDispatcher) CheckConfig(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"valid":  d.loader != nil,
		"agents": d.agents.List(),
	}, nil
}

// pushConfigRequest carries a full config override, applied in-memory to
// this daemon's agent registry only; it is never persisted back to disk.
type pushConfigRequest struct {
	Config config.Config `json:"config"`
}

// PushConfig reconfigures the in-process agent registry from a
// client-supplied config, without touching the on-disk config file.
func (d *remoteDispatcher) PushConfig(_ context.Context, payload json.RawMessage) (interface{}, error) {
	var req pushConfigRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, core.ErrValidation("INVALID_PAYLOAD", "push_config payload must carry a config object")
	}
	if err := cli.ConfigureRegistryFromConfig(d.agents, &req.Config); err != nil {
		return nil, fmt.Errorf("applying pushed config: %w", err)
	}
	return map[string]interface{}{"agents": d.agents.List()}, nil
}

type startRunRequest struct {
	SessionID     string `json:"session_id"`
	Agent         string `json:"agent"`
	Tracker       string `json:"tracker"`
	MaxIterations int    `json:"max_iterations"`
	ErrorStrategy string `json:"error_strategy"`
}

// StartRun builds and launches a T1 engine for the requested agent and
// tracker, running it in the background under sessionID so a later
// stop_run or get_session_state can address it.
func (d *remoteDispatcher) StartRun(_ context.Context, payload json.RawMessage) (interface{}, error) {
	var req startRunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, core.ErrValidation("INVALID_PAYLOAD", "start_run payload is malformed")
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("remote-%d", time.Now().UnixNano())
	}
	if req.Agent == "" {
		return nil, core.ErrValidation("MISSING_AGENT", "start_run requires an agent id")
	}

	d.mu.Lock()
	if _, exists := d.running[req.SessionID]; exists {
		d.mu.Unlock()
		return nil, core.ErrState("SESSION_ALREADY_RUNNING", "a run is already active for this session_id")
	}
	d.mu.Unlock()

	agentPlugin, err := cli.NewAgentPlugin(d.agents, req.Agent)
	if err != nil {
		return nil, fmt.Errorf("resolving agent %q: %w", req.Agent, err)
	}
	trackerPlugin, err := buildTrackerPlugin(req.Tracker, d.projectRoot)
	if err != nil {
		return nil, err
	}
	gitClient, err := git.NewClient(d.projectRoot)
	if err != nil {
		return nil, fmt.Errorf("creating git client: %w", err)
	}

	strategy := engine.ErrorStrategy(req.ErrorStrategy)
	if strategy == "" {
		strategy = engine.ErrorStrategySkip
	}
	eng := engine.New(engine.Config{
		SessionID:     req.SessionID,
		Workspace:     d.projectRoot,
		MaxIterations: req.MaxIterations,
		ErrorStrategy: strategy,
	}, agentPlugin, trackerPlugin, gitClient, d.bus)

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.running[req.SessionID] = &runningRun{cancel: cancel, engine: eng}
	d.mu.Unlock()

	now := time.Now()
	if d.sessions != nil {
		_ = d.sessions.Register(registry.Entry{
			SessionID: req.SessionID,
			Cwd:       d.projectRoot,
			Status:    registry.StatusRunning,
			StartedAt: now,
			LastSeen:  now,
		})
	}

	go func() {
		defer cancel()
		runErr := eng.Run(runCtx)
		d.mu.Lock()
		delete(d.running, req.SessionID)
		d.mu.Unlock()
		if d.sessions != nil {
			_ = d.sessions.Unregister(req.SessionID)
		}
		if runErr != nil && d.logger != nil {
			d.logger.Warn("remote run ended with error", "session_id", req.SessionID, "error", runErr)
		}
	}()

	return map[string]interface{}{"session_id": req.SessionID, "state": string(eng.State())}, nil
}

type stopRunRequest struct {
	SessionID string `json:"session_id"`
}

// StopRun requests cooperative shutdown of a running session.
func (d *remoteDispatcher) StopRun(_ context.Context, payload json.RawMessage) (interface{}, error) {
	var req stopRunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, core.ErrValidation("INVALID_PAYLOAD", "stop_run payload is malformed")
	}

	d.mu.Lock()
	run, ok := d.running[req.SessionID]
	d.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound("session", req.SessionID)
	}

	run.engine.Stop()
	return map[string]interface{}{"session_id": req.SessionID, "stopping": true}, nil
}

type getSessionStateRequest struct {
	SessionID string `json:"session_id"`
}

// GetSessionState reads back L6's persisted state for the session's
// workspace, falling back to the in-memory running state if nothing has
// been flushed to disk yet.
func (d *remoteDispatcher) GetSessionState(_ context.Context, payload json.RawMessage) (interface{}, error) {
	var req getSessionStateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, core.ErrValidation("INVALID_PAYLOAD", "get_session_state payload is malformed")
	}

	d.mu.Lock()
	run, running := d.running[req.SessionID]
	d.mu.Unlock()

	state, err := sessionlock.LoadState(d.projectRoot)
	if err != nil {
		return nil, err
	}
	if state == nil {
		if !running {
			return nil, core.ErrNotFound("session", req.SessionID)
		}
		return map[string]interface{}{"session_id": req.SessionID, "state": string(run.engine.State())}, nil
	}
	return state, nil
}

var _ remoteserver.Dispatcher = (*remoteDispatcher)(nil)
