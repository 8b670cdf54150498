package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ralphtui/ralph/internal/adapters/cli"
	"github.com/ralphtui/ralph/internal/audit"
	"github.com/ralphtui/ralph/internal/config"
	"github.com/ralphtui/ralph/internal/events"
	"github.com/ralphtui/ralph/internal/logging"
	"github.com/ralphtui/ralph/internal/registry"
	"github.com/ralphtui/ralph/internal/remoteauth"
	"github.com/ralphtui/ralph/internal/remoteserver"
)

var remoteServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket remote control plane",
	Long: `Start the T3 WebSocket control plane daemon: a remote client
authenticates with the server token printed on first run (or rotated with
"ralph remote token --rotate"), then drives this project's task loop
through check_config/push_config/start_run/stop_run/get_session_state/
list_sessions requests, every one of which is recorded in the audit log.`,
	RunE: runRemoteServe,
}

var (
	remoteServeHost string
	remoteServePort int
	remoteServeCORS []string
)

func init() {
	remoteCmd.AddCommand(remoteServeCmd)
	remoteServeCmd.Flags().StringVar(&remoteServeHost, "host", "localhost", "Host address to bind to")
	remoteServeCmd.Flags().IntVar(&remoteServePort, "port", 7330, "Port to listen on")
	remoteServeCmd.Flags().StringSliceVar(&remoteServeCORS, "cors-origin", nil, "Allowed CORS origins (repeatable)")
}

func runRemoteServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: os.Stdout})

	userConfigDir, err := config.UserConfigDir()
	if err != nil {
		return fmt.Errorf("resolving user config dir: %w", err)
	}

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	ralphCfg, err := loader.Load()
	if err != nil {
		logger.Warn("failed to load config, agents will not be configured", "error", err)
		ralphCfg = &config.Config{}
	}

	agentRegistry := cli.NewRegistry()
	if err := cli.ConfigureRegistryFromConfig(agentRegistry, ralphCfg); err != nil {
		logger.Warn("failed to configure agents", "error", err)
	}

	projectRoot := loader.ProjectDir()

	tokens := remoteauth.NewStore(remoteauth.DefaultPath(userConfigDir))
	serverToken, err := tokens.GetOrCreateServerToken()
	if err != nil {
		return fmt.Errorf("provisioning server token: %w", err)
	}

	auditLog := audit.New(audit.DefaultPath(userConfigDir))
	sessions := registry.New(registry.DefaultPath(userConfigDir))
	bus := events.New(100)
	defer bus.Close()

	dispatcher := newRemoteDispatcher(logger, loader, agentRegistry, bus, sessions, projectRoot)
	server := remoteserver.New(logger.Logger, tokens, auditLog, sessions, dispatcher)

	state, err := server.Start(remoteServeHost, remoteServePort, remoteServeCORS)
	if err != nil {
		return fmt.Errorf("starting remote server: %w", err)
	}

	fmt.Printf("\n  Ralph remote control plane listening at ws://%s:%d\n", state.Host, state.Port)
	fmt.Printf("  Server token: %s (version %d)\n\n", serverToken.Value, serverToken.Version)
	logger.Info("remote server started", "host", state.Host, "port", state.Port, "pid", state.PID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down remote server...")
	if err := server.Stop(context.Background()); err != nil {
		return fmt.Errorf("stopping remote server: %w", err)
	}
	logger.Info("remote server stopped")
	return nil
}
