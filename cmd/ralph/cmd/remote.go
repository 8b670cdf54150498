package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ralphtui/ralph/internal/config"
	"github.com/ralphtui/ralph/internal/remotebook"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage bookmarked remote ralph daemons",
	Long:  "Add, list, remove, and test connections to remote ralph daemons tracked in remotes.toml.",
}

var remoteAddCmd = &cobra.Command{
	Use:   "add NAME HOST PORT",
	Short: "Bookmark a remote daemon",
	Args:  cobra.ExactArgs(3),
	RunE:  runRemoteAdd,
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarked remote daemons",
	RunE:  runRemoteList,
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a bookmarked remote daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteRemove,
}

var remoteDefaultFlag bool

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteAddCmd, remoteListCmd, remoteRemoveCmd)
	remoteAddCmd.Flags().BoolVar(&remoteDefaultFlag, "default", false, "make this the default remote")
}

func openRemoteBook() (*remotebook.Book, error) {
	dir, err := config.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return remotebook.New(remotebook.DefaultPath(dir)), nil
}

func runRemoteAdd(cmd *cobra.Command, args []string) error {
	book, err := openRemoteBook()
	if err != nil {
		return err
	}

	var port int
	if _, err := fmt.Sscanf(args[2], "%d", &port); err != nil {
		return fmt.Errorf("invalid port %q: %w", args[2], err)
	}

	remote := remotebook.Remote{
		Name:    args[0],
		Host:    args[1],
		Port:    port,
		Default: remoteDefaultFlag,
	}
	if err := book.Add(remote); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bookmarked remote %q at %s:%d\n", remote.Name, remote.Host, remote.Port)
	return nil
}

func runRemoteList(cmd *cobra.Command, _ []string) error {
	book, err := openRemoteBook()
	if err != nil {
		return err
	}

	remotes, err := book.List()
	if err != nil {
		return err
	}
	if len(remotes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No remotes bookmarked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHOST\tPORT\tDEFAULT")
	for _, r := range remotes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", r.Name, r.Host, r.Port, r.Default)
	}
	return w.Flush()
}

func runRemoteRemove(cmd *cobra.Command, args []string) error {
	book, err := openRemoteBook()
	if err != nil {
		return err
	}
	if err := book.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed remote %q\n", args[0])
	return nil
}
