package users

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

var setRoleCmd = &cobra.Command{
	Use:   "set-role <email> <role>",
	Short: "Change a user's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := identity.ParseRole(args[1])
		if err != nil {
			return err
		}
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		u, err := b.Directory.SetRole(cmd.Context(), actor, args[0], role)
		if err != nil {
			return fmt.Errorf("failed to set role: %w", err)
		}
		pterm.Success.Printf("%s is now %s\n", u.Email, u.Role)
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <email> <name>",
	Short: "Change a user's display name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		u, err := b.Directory.Rename(cmd.Context(), actor, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to rename user: %w", err)
		}
		pterm.Success.Printf("%s is now named %q\n", u.Email, u.Name)
		return nil
	},
}
