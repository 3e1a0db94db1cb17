package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/vaultcheck/internal/models"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUnresolved, exitCode(&exitStatus{code: exitUnresolved}))
	assert.Equal(t, exitAbort, exitCode(fmt.Errorf("run: %w", &exitStatus{code: exitAbort})))
	assert.Equal(t, exitAbort, exitCode(errors.New("boom")))
}

func TestSeverityCounts(t *testing.T) {
	run := models.NewCheckRun("id", "/vault", models.ModeShallow)
	assert.Equal(t, "0", severityCounts(run))

	run.CountSeverity("INFO", 1)
	run.CountSeverity("WARN", 2)
	run.CountSeverity("ERROR", 1)
	assert.Equal(t, "3 (1 ERROR, 2 WARN)", severityCounts(run))
}

func TestRepairCounts(t *testing.T) {
	run := models.NewCheckRun("id", "/vault", models.ModeShallow)
	assert.Equal(t, "-", repairCounts(run))

	run.AddRepair("MissingMFile d/AB/CD", nil)
	run.AddRepair("Conflict d/AB/CD/X.enc", errors.New("target exists"))
	assert.Equal(t, "1/2", repairCounts(run))
}
