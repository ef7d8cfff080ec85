package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
)

var activityLimit int

var activityCmd = &cobra.Command{
	Use:   "activity <email>",
	Short: "Show a user's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := directoryBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		entries, err := b.Directory.Activity(cmd.Context(), args[0], activityLimit)
		if err != nil {
			return fmt.Errorf("failed to read activity: %w", err)
		}
		return cmdutil.PrintActivity(entries)
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimit, "limit", directory.DefaultActivityLimit, "Maximum entries to show")
}
