package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultcheck/internal/client"
	"github.com/TheMichaelB/vaultcheck/internal/config"
	"github.com/TheMichaelB/vaultcheck/internal/events"
)

// version is set via ldflags during build
var version = "dev"

// Exit codes
const (
	exitOK         = 0
	exitAbort      = 1
	exitUnresolved = 2
)

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool
	noColor    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "vaultcheck",
	Short: "Check and repair the structure of an encrypted vault",
	Long: `vaultcheck audits an encrypted vault directory: it reconstructs the
logical directory tree from the ciphertext tree, reports every structural
problem it finds and optionally repairs a selected subset of them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewLoader(cfgFile).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if noColor {
			cfg.Log.Color = false
			color.NoColor = true
		}

		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		logger, err = events.NewLogger(&cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		events.SetDefault(logger)

		apiClient, err = client.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default: ./vaultcheck.json or ~/.config/vaultcheck/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
}

func main() {
	err := rootCmd.Execute()
	_ = closeClient()
	os.Exit(exitCode(err))
}

func closeClient() error {
	if apiClient == nil {
		return nil
	}
	err := apiClient.Close()
	apiClient = nil
	if logger != nil {
		_ = logger.Close()
	}
	return err
}

// exitStatus carries a non-zero exit code without an error message.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var status *exitStatus
	if errors.As(err, &status) {
		return status.code
	}

	printError("Error: %v", err)
	return exitAbort
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		printError("Error: encode JSON: %v", err)
	}
}
