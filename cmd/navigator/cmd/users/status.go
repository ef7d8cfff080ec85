package users

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
)

type statusChange func(s *directory.Synchronizer, ctx context.Context, actor, email string) (*models.DirectoryUser, error)

func statusCmd(use, short, verb string, change statusChange) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := directoryBundle(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			u, err := change(b.Directory, cmd.Context(), actor, args[0])
			if err != nil {
				return fmt.Errorf("failed to %s user: %w", use, err)
			}
			pterm.Success.Printf("%s %s\n", verb, u.Email)
			return nil
		},
	}
}

var deactivateCmd = statusCmd("deactivate", "Deactivate a user, ending their access", "Deactivated", (*directory.Synchronizer).Deactivate)

var reactivateCmd = statusCmd("reactivate", "Reactivate a deactivated user", "Reactivated", (*directory.Synchronizer).Reactivate)
