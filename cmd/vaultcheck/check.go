package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultcheck/internal/client"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/report"
)

var checkCmd = &cobra.Command{
	Use:   "check <vault>",
	Short: "Check the structure of a vault",
	Long: `Check unlocks the vault, writes a structure dump, scans the directory
structure and file names, and writes a problem report.

Problems can be repaired in the same run by naming their kinds with --solve.
Run the check again afterwards to confirm the repairs.`,
	Example: `  vaultcheck check ./my-vault
  vaultcheck check ./my-vault --solve MissingMFile,OrphanMFile`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0], false)
	},
}

var deepcheckCmd = &cobra.Command{
	Use:   "deepcheck <vault>",
	Short: "Check the structure and file contents of a vault",
	Long: `Deepcheck does everything check does and also authenticates the content
of every file and compares its length with the length declared in its header.`,
	Example: `  vaultcheck deepcheck ./my-vault --passphrase-file ./pass.txt`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args[0], true)
	},
}

var (
	checkSolve          string
	checkPassphraseFile string
	checkOutputDir      string
	checkWorkers        int
)

func init() {
	for _, cmd := range []*cobra.Command{checkCmd, deepcheckCmd} {
		rootCmd.AddCommand(cmd)

		cmd.Flags().StringVar(&checkSolve, "solve", "",
			"Comma-separated problem kinds to repair, e.g. MissingMFile,OrphanMFile")
		cmd.Flags().StringVar(&checkPassphraseFile, "passphrase-file", "",
			"Read the passphrase from a file (default: $"+passphraseEnv+" or prompt)")
		cmd.Flags().StringVarP(&checkOutputDir, "output-dir", "o", "",
			"Directory for the structure dump and report (default from config)")
		cmd.Flags().IntVarP(&checkWorkers, "workers", "w", 0,
			"Scanner worker count (default from config)")
	}
}

func runCheck(cmd *cobra.Command, vaultPath string, deep bool) error {
	// Unknown kinds are rejected before anything touches the vault.
	kinds, err := problems.ParseKindSet(checkSolve)
	if err != nil {
		return err
	}

	if checkOutputDir != "" {
		cfg.Output.Dir = checkOutputDir
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
	}
	if checkWorkers > 0 {
		cfg.Check.Workers = checkWorkers
	}

	passphrase, err := readPassphrase(checkPassphraseFile)
	if err != nil {
		return err
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nCheck interrupted, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := apiClient.Run(ctx, client.RunOptions{
		VaultPath:  vaultPath,
		Passphrase: passphrase,
		Deep:       deep,
		Solve:      kinds,
	})
	if err != nil {
		return reportAbort(err)
	}

	if jsonOutput {
		printRunJSON(result)
	} else if err := printRunText(result); err != nil {
		return err
	}

	if result.Remaining() > 0 {
		return &exitStatus{code: exitUnresolved}
	}
	return nil
}

// reportAbort prints a failed run and converts it into the abort exit status.
func reportAbort(err error) error {
	var abort *models.AbortError
	isAbort := errors.As(err, &abort)

	if jsonOutput {
		out := map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		}
		if isAbort && abort.Diagnostic != "" {
			out["diagnostic"] = abort.Diagnostic
		}
		printJSON(out)
		return &exitStatus{code: exitAbort}
	}

	if isAbort && abort.Diagnostic != "" {
		printError("%s", abort.Diagnostic)
	}
	printError("Check aborted: %v", err)
	return &exitStatus{code: exitAbort}
}

func printRunText(result *client.RunResult) error {
	printInfo("Wrote %d path(s) to %s", result.StructureLines, result.StructurePath)

	if err := report.WriteSummary(os.Stdout, result.Problems, result.ReportPath); err != nil {
		return err
	}

	if len(result.Outcomes) == 0 {
		return nil
	}

	unresolved := result.Unresolved()
	solved := len(result.Outcomes) - len(unresolved)
	fmt.Println()
	if len(unresolved) == 0 {
		printSuccess("Solved %d problem(s).", solved)
		return nil
	}

	printWarning("Solved %d of %d problem(s). Unresolved:", solved, len(result.Outcomes))
	for _, o := range unresolved {
		printWarning("  %-5s %s", o.Problem.Severity, problems.RedactText(result.VaultRoot, o.Err.Error()))
	}
	return nil
}

func printRunJSON(result *client.RunResult) {
	type problemJSON struct {
		Severity string `json:"severity"`
		Problem  string `json:"problem"`
		Solvable bool   `json:"solvable"`
	}
	type outcomeJSON struct {
		Problem string `json:"problem"`
		Solved  bool   `json:"solved"`
		Error   string `json:"error,omitempty"`
	}

	found := make([]problemJSON, 0, len(result.Problems))
	for _, p := range result.Problems {
		found = append(found, problemJSON{
			Severity: p.Severity.String(),
			Problem:  p.Render(result.VaultRoot),
			Solvable: p.Solvable(),
		})
	}

	outcomes := make([]outcomeJSON, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		out := outcomeJSON{Problem: o.Problem.Render(result.VaultRoot), Solved: o.Solved()}
		if o.Err != nil {
			out.Error = problems.RedactText(result.VaultRoot, o.Err.Error())
		}
		outcomes = append(outcomes, out)
	}

	printJSON(map[string]interface{}{
		"success":   true,
		"run_id":    result.Run.RunID,
		"mode":      result.Run.Mode,
		"count":     problems.Count(result.Problems),
		"remaining": result.Remaining(),
		"problems":  found,
		"repairs":   outcomes,
		"structure": filepath.ToSlash(result.StructurePath),
		"report":    filepath.ToSlash(result.ReportPath),
	})
}
