package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ralphtui/ralph/internal/config"
	"github.com/ralphtui/ralph/internal/remoteauth"
)

var remoteTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show or rotate this project's remote server token",
	Long: `Print the server token a remote client authenticates "ralph remote
serve" with, creating one on first use. --rotate issues a new token and
revokes the old one.`,
	RunE: runRemoteToken,
}

var remoteTokenRotate bool

func init() {
	remoteCmd.AddCommand(remoteTokenCmd)
	remoteTokenCmd.Flags().BoolVar(&remoteTokenRotate, "rotate", false, "Issue a new token and revoke the old one")
}

func runRemoteToken(cmd *cobra.Command, _ []string) error {
	userConfigDir, err := config.UserConfigDir()
	if err != nil {
		return fmt.Errorf("resolving user config dir: %w", err)
	}
	store := remoteauth.NewStore(remoteauth.DefaultPath(userConfigDir))

	var tok remoteauth.ServerToken
	if remoteTokenRotate {
		tok, err = store.RotateServerToken()
	} else {
		tok, err = store.GetOrCreateServerToken()
	}
	if err != nil {
		return fmt.Errorf("loading server token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server token: %s (version %d, expires %s)\n", tok.Value, tok.Version, tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
