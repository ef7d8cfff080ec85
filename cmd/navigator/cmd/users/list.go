package users

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List directory users",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		users, err := b.Directory.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		return cmdutil.PrintUsers(users)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <email>",
	Short: "Show one directory user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		u, err := b.Directory.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get user %s: %w", args[0], err)
		}
		pterm.DefaultSection.Println(u.Email)
		return pterm.DefaultTable.WithData(pterm.TableData{
			{"ID", u.ID},
			{"Name", u.Name},
			{"Role", string(u.Role)},
			{"Status", string(u.Status)},
			{"Provider", u.AuthProvider},
			{"Created", u.CreatedAt.Format("2006-01-02 15:04:05")},
			{"Last login", cmdutil.FormatTime(u.LastLoginAt)},
		}).Render()
	},
}
