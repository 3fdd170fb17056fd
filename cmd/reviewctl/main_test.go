package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("STORAGE_TYPE", "local")
	t.Setenv("STORAGE_LOCAL_PATH", t.TempDir())
	t.Setenv("EMBEDDER", "hash")
	t.Setenv("VERIFIER_BACKEND", "rules")
	t.Setenv("EXPLAIN_BACKEND", "grounded")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--store", "memory"}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCheck_ReviewsAndExplains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msa.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"Payment Terms. The Customer shall pay each invoice within 60 days of receipt.\n\n"+
			"Governing Law. This Agreement is governed by the laws of Delaware.\n"), 0o644))

	out := execute(t, "check", path, "--rule", "payment_cycle_max_30,confidentiality_clause_required", "--explain")

	assert.Contains(t, out, "payment_cycle_max_30")
	assert.Contains(t, out, "confidentiality_clause_required")
	assert.Contains(t, out, "COMPLETED: 2 rules")
	assert.Contains(t, out, "[confidentiality_clause_required]")
}

func TestRulesList(t *testing.T) {
	out := execute(t, "rules", "list")
	assert.Contains(t, out, "payment_cycle_max_30")
	assert.Contains(t, out, "numeric_constraint")
}

func TestRulesParse(t *testing.T) {
	out := execute(t, "rules", "parse", "Payment must be made within 45 days")
	assert.Contains(t, out, `"type": "numeric_constraint"`)
}
