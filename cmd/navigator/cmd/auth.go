package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

var (
	loginEmail         string
	loginPassword      string
	loginPasswordStdin bool
	authMigrate        bool
)

// withApp builds the session stack with a terminal navigator and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, app *cmdutil.App) error) error {
	app, err := cmdutil.NewApp(ctx, cfg, logger, cmdutil.AppOptions{
		Migrate:   authMigrate,
		Navigator: cmdutil.TerminalNavigator{},
	})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Resolve and print the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cmdutil.App) error {
			return cmdutil.PrintSnapshot(app.Session.Start(ctx))
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a local account",
	Long: `Verifies the email and password against the local credential table and
persists the session under the state directory. In edge mode the edge proxy
owns login and this command only reports that a reload is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *cmdutil.App) error {
			app.Session.Start(ctx)
			if app.Mode == identity.ModeEdge {
				app.Session.Login(ctx, loginEmail, password)
				return nil
			}
			if !app.Session.Login(ctx, loginEmail, password) {
				pterm.Error.Println("Invalid email or password")
				return errors.New("login failed")
			}
			snap := app.Session.Snapshot()
			pterm.Success.Printf("Signed in as %s (%s)\n", snap.User.Email, snap.User.Role)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cmdutil.App) error {
			app.Session.Start(ctx)
			app.Session.Logout(ctx)
			if app.Mode == identity.ModeLocal {
				pterm.Success.Println("Signed out")
			}
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-read the directory record for the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *cmdutil.App) error {
			app.Session.Start(ctx)
			return cmdutil.PrintSnapshot(app.Session.Refresh(ctx))
		})
	},
}

func readPassword() (string, error) {
	if loginPasswordStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if loginPassword != "" {
		return loginPassword, nil
	}
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
}

func init() {
	for _, c := range []*cobra.Command{whoamiCmd, loginCmd, logoutCmd, refreshCmd} {
		c.Flags().BoolVar(&authMigrate, "migrate", false, "Apply pending directory migrations first")
		rootCmd.AddCommand(c)
	}
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prefer --password-stdin)")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
	_ = loginCmd.MarkFlagRequired("email")
}
