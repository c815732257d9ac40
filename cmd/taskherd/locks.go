package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/taskherd/taskherd/internal/config"
	"github.com/taskherd/taskherd/internal/lockstore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List the issue claims on this host",
	Long: `Lists every lock file under <base>/locks with its holder session,
PID, age, and staleness. Stale claims are displaced automatically by the
next selection; this command only inspects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocks()
	},
}

func init() {
	rootCmd.AddCommand(locksCmd)
}

func runLocks() error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return err
	}

	store := lockstore.New(cfg.Dir(config.LocksDir), cfg.LockStaleTimeout)
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println(mutedStyle.Render("no locks held"))
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-28s %-6s %-10s %-38s %-8s %s",
		"REPO", "ISSUE", "AGE", "SESSION", "PID", "STATE")))
	now := time.Now()
	for _, info := range infos {
		rec := info.Record
		state := liveStyle.Render("live")
		if info.Stale {
			state = staleStyle.Render("stale")
		}
		fmt.Printf("%-28s #%-5d %-10s %-38s %-8d %s\n",
			rec.Repo, rec.IssueNumber,
			formatAge(now.Sub(rec.AcquiredAt)),
			rec.SessionID, rec.PID, state)
	}
	return nil
}

// formatAge renders a duration in the largest sensible unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
