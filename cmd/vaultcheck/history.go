package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
)

var historyCmd = &cobra.Command{
	Use:   "history [vault]",
	Short: "List recorded check runs",
	Long: `History lists previous check runs, newest first. Runs are only
recorded when history.backend is json or sqlite.`,
	Example: `  vaultcheck history
  vaultcheck history ./my-vault --limit 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"Maximum number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	vaultPath := ""
	if len(args) == 1 {
		vaultPath = args[0]
	}

	runs, err := apiClient.Runs(vaultPath, historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOutput {
		if runs == nil {
			runs = []*models.CheckRun{}
		}
		printJSON(runs)
		return nil
	}

	if len(runs) == 0 {
		printInfo("No runs recorded (history backend: %s)", cfg.History.Backend)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Started", "Mode", "Vault", "Problems", "Repairs", "Duration", "Error"})

	for _, run := range runs {
		t.AppendRow(table.Row{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Mode,
			run.VaultPath,
			severityCounts(run),
			repairCounts(run),
			run.Duration().Round(time.Millisecond).String(),
			run.LastError,
		})
	}

	t.Render()
	return nil
}

// severityCounts renders e.g. "3 (1 ERROR, 2 WARN)".
func severityCounts(run *models.CheckRun) string {
	var parts []string
	for _, severity := range problems.Severities() {
		if !severity.Counts() {
			continue
		}
		if n := run.Severities[severity.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, severity))
		}
	}

	if len(parts) == 0 {
		return "0"
	}
	return fmt.Sprintf("%d (%s)", run.ProblemCount(), strings.Join(parts, ", "))
}

func repairCounts(run *models.CheckRun) string {
	if len(run.Repairs) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", len(run.Repairs)-len(run.Unresolved()), len(run.Repairs))
}
