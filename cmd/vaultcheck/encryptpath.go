package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var encryptpathCmd = &cobra.Command{
	Use:   "encryptpath <vault> <path>",
	Short: "Print the ciphertext location of a logical path",
	Long: `Encryptpath resolves a logical path inside the vault, directory by
directory, and prints where its ciphertext lives on disk. It does not
validate the vault structure.`,
	Example: `  vaultcheck encryptpath ./my-vault /notes/daily/2024-01-01.md`,
	Args:    cobra.ExactArgs(2),
	RunE:    runEncryptPath,
}

var encryptpathPassphraseFile string

func init() {
	rootCmd.AddCommand(encryptpathCmd)

	encryptpathCmd.Flags().StringVar(&encryptpathPassphraseFile, "passphrase-file", "",
		"Read the passphrase from a file (default: $"+passphraseEnv+" or prompt)")
}

func runEncryptPath(cmd *cobra.Command, args []string) error {
	passphrase, err := readPassphrase(encryptpathPassphraseFile)
	if err != nil {
		return err
	}

	encrypted, root, err := apiClient.EncryptPath(context.Background(), args[0], passphrase, args[1])
	if err != nil {
		if root == "" {
			return reportAbort(err)
		}
		return fmt.Errorf("encrypt path: %w", err)
	}

	abs := func(rel string) string {
		if rel == "" {
			return ""
		}
		return filepath.Join(root, rel)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"path":      args[1],
			"dir_id":    encrypted.DirID,
			"entry":     abs(encrypted.Entry),
			"directory": abs(encrypted.Directory),
		})
		return nil
	}

	if encrypted.Entry != "" {
		fmt.Println(abs(encrypted.Entry))
	}
	if encrypted.Directory != "" {
		fmt.Println(abs(encrypted.Directory))
	}
	return nil
}
