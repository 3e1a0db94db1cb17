package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/TheMichaelB/vaultcheck/internal/config"
)

// passphraseEnv names the environment variable holding the vault passphrase.
const passphraseEnv = config.EnvPrefix + "_PASSPHRASE"

// readPassphrase resolves the passphrase: file flag, then environment, then prompt.
func readPassphrase(file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if pw, ok := os.LookupEnv(passphraseEnv); ok {
		return pw, nil
	}

	return promptPassword("Vault passphrase: ")
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.New("no passphrase on stdin")
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}

	return string(password), nil
}
