package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeVaultNotFound = "VAULT_NOT_FOUND"
	ErrCodeMasterkey     = "MASTERKEY_ERROR"
	ErrCodePassphrase    = "PASSPHRASE_ERROR"
	ErrCodeStorage       = "STORAGE_ERROR"
	ErrCodeOutput        = "OUTPUT_ERROR"
	ErrCodeConfig        = "CONFIG_ERROR"
)

// Sentinel errors
var (
	ErrVaultNotFound      = errors.New("vault not found")
	ErrInvalidPassphrase  = errors.New("invalid passphrase")
	ErrMasterkeyMissing   = errors.New("masterkey file missing")
	ErrMasterkeyInvalid   = errors.New("masterkey file invalid")
	ErrUnknownProblemKind = errors.New("unknown problem kind")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrAuthentication     = errors.New("authentication failed")
	ErrOutputExists       = errors.New("output file already exists")
	ErrPathEscapesVault   = errors.New("path escapes vault root")
	ErrVaultExists        = errors.New("vault already initialized")
)

// AbortError stops a run before any problem is reported.
type AbortError struct {
	Code       string
	Phase      string
	Vault      string
	Diagnostic string // Rendered FATAL problem, when one applies
	Err        error
}

func (e *AbortError) Error() string {
	if e.Vault != "" {
		return fmt.Sprintf("check aborted during %s [%s]: vault %s: %v", e.Phase, e.Code, e.Vault, e.Err)
	}
	return fmt.Sprintf("check aborted during %s [%s]: %v", e.Phase, e.Code, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// EntryFault is an unexpected failure while processing one vault entry.
type EntryFault struct {
	Path string
	Op   string
	Err  error
}

func (e *EntryFault) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *EntryFault) Unwrap() error {
	return e.Err
}

// SolutionError is a repair that could not be applied.
type SolutionError struct {
	Problem string
	Err     error
}

func (e *SolutionError) Error() string {
	return fmt.Sprintf("solve %s: %v", e.Problem, e.Err)
}

func (e *SolutionError) Unwrap() error {
	return e.Err
}

// IsAbort reports whether err ends a run before scanning.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}
