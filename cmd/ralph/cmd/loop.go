package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ralphtui/ralph/internal/adapters/cli"
	"github.com/ralphtui/ralph/internal/adapters/git"
	"github.com/ralphtui/ralph/internal/adapters/github"
	"github.com/ralphtui/ralph/internal/adapters/tracker"
	"github.com/ralphtui/ralph/internal/config"
	"github.com/ralphtui/ralph/internal/core"
	"github.com/ralphtui/ralph/internal/engine"
	"github.com/ralphtui/ralph/internal/events"
	"github.com/ralphtui/ralph/internal/logging"
	"github.com/ralphtui/ralph/internal/registry"
	"github.com/ralphtui/ralph/internal/service/merge"
	"github.com/ralphtui/ralph/internal/worktree"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Drive one agent against a task tracker until it runs dry",
	Long: `Run the execution engine: select the highest-priority open task from
a tracker, render its prompt, spawn one coding agent per iteration, and
repeat until no tasks remain, --max-iterations is hit, or the run is
interrupted.

With --parallel, independent tasks are instead run concurrently, each in
its own git worktree, landing through a sequential merge queue.`,
	Example: `  # Iterate over .ralph-tui/tasks.json with claude
  ralph loop --agent claude

  # Drive GitHub Issues instead of the local task file
  ralph loop --agent claude --tracker github

  # Run up to 3 independent tasks concurrently
  ralph loop --agent claude --parallel --max-workers 3`,
	RunE: runLoop,
}

var (
	loopAgent         string
	loopModel         string
	loopTracker       string
	loopMaxIterations int
	loopErrorStrategy string
	loopMaxRetries    int
	loopParallel      bool
	loopMaxWorkers    int
)

func init() {
	rootCmd.AddCommand(loopCmd)

	loopCmd.Flags().StringVar(&loopAgent, "agent", "claude", "Coding agent to drive (e.g. claude, gemini, codex)")
	loopCmd.Flags().StringVar(&loopModel, "model", "", "Override the agent's default model")
	loopCmd.Flags().StringVar(&loopTracker, "tracker", "file", "Task source: file or github")
	loopCmd.Flags().IntVar(&loopMaxIterations, "max-iterations", 0, "Stop after N iterations (0 = unlimited)")
	loopCmd.Flags().StringVar(&loopErrorStrategy, "on-error", "skip", "Error strategy: skip, retry, or abort")
	loopCmd.Flags().IntVar(&loopMaxRetries, "max-retries", 3, "Retries per task when --on-error=retry")
	loopCmd.Flags().BoolVar(&loopParallel, "parallel", false, "Run independent tasks concurrently in separate worktrees")
	loopCmd.Flags().IntVar(&loopMaxWorkers, "max-workers", 4, "Concurrent workers when --parallel is set")
}

func runLoop(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, stopping after the current iteration...")
		cancel()
	}()

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	projectRoot := loader.ProjectDir()

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})

	registry := cli.NewRegistry()
	if err := cli.ConfigureRegistryFromConfig(registry, cfg); err != nil {
		return fmt.Errorf("configuring agents: %w", err)
	}
	agentPlugin, err := cli.NewAgentPlugin(registry, loopAgent)
	if err != nil {
		return fmt.Errorf("resolving agent %q: %w", loopAgent, err)
	}

	trackerPlugin, err := buildTrackerPlugin(loopTracker, projectRoot)
	if err != nil {
		return err
	}

	gitClient, err := git.NewClient(projectRoot)
	if err != nil {
		return fmt.Errorf("creating git client: %w", err)
	}

	bus := events.New(100)
	sub := bus.Subscribe()
	go func() {
		for evt := range sub {
			logger.Info("loop event", "type", evt.EventType(), "workflow_id", evt.WorkflowID())
		}
	}()

	sessionID := fmt.Sprintf("loop-%d", time.Now().UnixNano())

	if userConfigDir, cfgErr := os.UserConfigDir(); cfgErr == nil {
		sessions := registry.New(registry.DefaultPath(userConfigDir))
		now := time.Now()
		if err := sessions.Register(registry.Entry{
			SessionID: sessionID,
			Cwd:       projectRoot,
			PID:       os.Getpid(),
			Status:    registry.StatusRunning,
			StartedAt: now,
			LastSeen:  now,
		}); err != nil {
			logger.Warn("registering session", "error", err)
		}
		defer func() {
			if err := sessions.Unregister(sessionID); err != nil {
				logger.Warn("unregistering session", "error", err)
			}
		}()
	}

	engineCfg := engine.Config{
		SessionID:        sessionID,
		Workspace:        projectRoot,
		MaxIterations:    loopMaxIterations,
		ErrorStrategy:    engine.ErrorStrategy(loopErrorStrategy),
		MaxRetries:       loopMaxRetries,
		RetryDelay:       2 * time.Second,
		Model:            loopModel,
		IterationTimeout: 30 * time.Minute,
	}

	if !loopParallel {
		eng := engine.New(engineCfg, agentPlugin, trackerPlugin, gitClient, bus)
		logger.Info("starting execution engine", "agent", loopAgent, "tracker", loopTracker)
		if err := eng.Run(ctx); err != nil {
			return fmt.Errorf("engine run: %w", err)
		}
		return nil
	}

	tasks, err := trackerPlugin.GetTasks(ctx, &core.TrackerTaskFilter{Status: []core.TrackerTaskStatus{core.TrackerTaskOpen}})
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if len(tasks) == 0 {
		logger.Info("no open tasks; nothing to do")
		return nil
	}

	worktreeBase := filepath.Join(projectRoot, ".ralph-tui", "worktrees")
	worktrees, err := worktree.NewManager(gitClient, worktreeBase, 0, 0)
	if err != nil {
		return fmt.Errorf("creating worktree manager: %w", err)
	}
	_ = worktree.EnsureGitignore(projectRoot, filepath.Join(".ralph-tui", "worktrees"))

	mergeQueue := merge.New(gitClient, bus, sessionID)

	parallelCfg := engine.ParallelConfig{
		WorkflowID:   sessionID,
		MaxWorkers:   loopMaxWorkers,
		ConflictMode: engine.ConflictModeManual,
		EngineConfig: engineCfg,
	}
	parallel := engine.NewParallel(parallelCfg, agentPlugin, trackerPlugin, gitClient, bus, worktrees, mergeQueue)

	logger.Info("starting parallel executor", "agent", loopAgent, "tracker", loopTracker, "tasks", len(tasks), "max_workers", loopMaxWorkers)
	outcomes, err := parallel.Run(ctx, tasks)
	if err != nil {
		return fmt.Errorf("parallel run: %w", err)
	}
	for _, o := range outcomes {
		if !o.Success {
			logger.Warn("worker failed", "task", o.TaskID, "error", o.Error)
		}
	}
	return nil
}

func buildTrackerPlugin(kind, projectRoot string) (core.TrackerPlugin, error) {
	switch kind {
	case "", "file":
		return tracker.NewFilePlugin(tracker.DefaultPath(projectRoot), true), nil
	case "github":
		adapter, err := github.NewIssueClientFromRepo()
		if err != nil {
			return nil, fmt.Errorf("creating GitHub issue client: %w", err)
		}
		return github.NewTrackerPlugin(adapter, ""), nil
	default:
		return nil, fmt.Errorf("unknown tracker %q (want file or github)", kind)
	}
}
