package users

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
)

var (
	actor   string
	migrate bool
)

// UsersCmd is the parent command for directory administration
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Administer the user directory",
	Long:  `Commands for listing, creating, and changing directory users and reading their activity.`,
}

func init() {
	UsersCmd.PersistentFlags().StringVar(&actor, "actor", "cli", "Email recorded as the actor of changes")
	UsersCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "Apply pending directory migrations first")

	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(getCmd)
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(setRoleCmd)
	UsersCmd.AddCommand(renameCmd)
	UsersCmd.AddCommand(deactivateCmd)
	UsersCmd.AddCommand(reactivateCmd)
	UsersCmd.AddCommand(activityCmd)
}

func directoryBundle(ctx context.Context) (*cmdutil.DirectoryBundle, error) {
	g := cmdutil.MustFromContext(ctx)
	return cmdutil.NewDirectoryBundle(ctx, g.Config, g.Logger, migrate)
}
