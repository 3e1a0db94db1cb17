package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
)

var initCmd = &cobra.Command{
	Use:   "init <vault>",
	Short: "Create an empty vault",
	Long: `Init creates a new, empty vault: a masterkey protected by the
passphrase, the data directory and the root directory.`,
	Example: `  vaultcheck init ./my-vault`,
	Args:    cobra.ExactArgs(1),
	RunE:    runInit,
}

var (
	initPassphraseFile string
	initScryptCost     int
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initPassphraseFile, "passphrase-file", "",
		"Read the passphrase from a file (default: $"+passphraseEnv+" or prompt)")
	initCmd.Flags().IntVar(&initScryptCost, "scrypt-cost", crypto.ScryptN,
		"Scrypt cost parameter, a power of two")
}

func runInit(cmd *cobra.Command, args []string) error {
	if initScryptCost < 2 || initScryptCost&(initScryptCost-1) != 0 {
		return errors.New("--scrypt-cost must be a power of two")
	}

	passphrase, err := readPassphrase(initPassphraseFile)
	if err != nil {
		return err
	}
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}

	if err := apiClient.Init(context.Background(), args[0], passphrase, initScryptCost); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{"success": false, "error": err.Error()})
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "vault": args[0]})
		return nil
	}

	printSuccess("Created vault at %s", args[0])
	return nil
}
