package users

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

var (
	createName string
	createRole string
)

var createCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Pre-register a directory user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := identity.ParseRole(createRole)
		if err != nil {
			return err
		}
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		u, err := b.Directory.CreateUser(cmd.Context(), actor, args[0], createName, role)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		pterm.Success.Printf("Created %s (%s, %s)\n", u.Email, u.Name, u.Role)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Display name (derived from the email when empty)")
	createCmd.Flags().StringVar(&createRole, "role", string(identity.RoleRead), "Role: admin, ops, read")
}
