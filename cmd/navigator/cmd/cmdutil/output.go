package cmdutil

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/session"
)

// TerminalNavigator prints the navigation a browser would perform.
type TerminalNavigator struct{}

func (TerminalNavigator) Reload() {
	pterm.Info.Println("Edge login requires a page reload; sign in through the edge proxy and retry")
}

func (TerminalNavigator) Redirect(url string) {
	pterm.Info.Printf("Continue logout at %s\n", url)
}

// PrintSnapshot renders a session snapshot.
func PrintSnapshot(snap session.Snapshot) error {
	pterm.DefaultSection.Println("Session")
	rows := pterm.TableData{
		{"Mode", string(snap.AuthMode)},
		{"State", string(snap.State)},
	}
	if snap.User != nil {
		rows = append(rows,
			[]string{"Email", snap.User.Email},
			[]string{"Name", snap.User.DisplayName},
			[]string{"Role", string(snap.User.Role)},
			[]string{"Provider", string(snap.User.Provider)},
			[]string{"Last login", FormatTime(snap.User.LastLogin)},
		)
	}
	if snap.PlatformUser != nil {
		rows = append(rows,
			[]string{"Directory ID", snap.PlatformUser.ID},
			[]string{"Status", string(snap.PlatformUser.Status)},
		)
	}
	return pterm.DefaultTable.WithData(rows).Render()
}

// PrintUsers renders directory users as a table.
func PrintUsers(users []models.DirectoryUser) error {
	if len(users) == 0 {
		pterm.Info.Println("No users in the directory")
		return nil
	}
	rows := pterm.TableData{{"EMAIL", "NAME", "ROLE", "STATUS", "PROVIDER", "LAST LOGIN"}}
	for i := range users {
		u := &users[i]
		rows = append(rows, []string{u.Email, u.Name, string(u.Role), string(u.Status), u.AuthProvider, FormatTime(u.LastLoginAt)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// PrintActivity renders audit entries, newest first.
func PrintActivity(entries []models.ActivityLogEntry) error {
	if len(entries) == 0 {
		pterm.Info.Println("No activity recorded")
		return nil
	}
	rows := pterm.TableData{{"WHEN", "ACTION", "DETAILS"}}
	for _, e := range entries {
		rows = append(rows, []string{e.CreatedAt.Format(time.RFC3339), string(e.Action), fmt.Sprint(map[string]any(e.Details))})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// FormatTime renders an optional timestamp, "never" when unset.
func FormatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
