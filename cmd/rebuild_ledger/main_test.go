package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eduops/courseledger/internal/usecase"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("failed to read stdout: %v", err)
	}
	return buf.String()
}

func TestMode(t *testing.T) {
	reset := func() {
		dryRun = false
		truncateOnly = false
		resume = false
	}
	t.Cleanup(reset)

	reset()
	if got := mode(); got != usecase.ModeFull {
		t.Fatalf("expected full mode by default, got %s", got)
	}

	reset()
	dryRun = true
	if got := mode(); got != usecase.ModeDryRun {
		t.Fatalf("expected dry_run mode, got %s", got)
	}

	reset()
	truncateOnly = true
	if got := mode(); got != usecase.ModeTruncateOnly {
		t.Fatalf("expected truncate_only mode, got %s", got)
	}

	reset()
	resume = true
	if got := mode(); got != usecase.ModeResume {
		t.Fatalf("expected resume mode, got %s", got)
	}
}

func TestPrintReport(t *testing.T) {
	report := &usecase.RebuildReport{
		Run: &usecase.RebuildRun{
			Mode:  usecase.ModeDryRun,
			State: usecase.StateComplete,
		},
		Transactions:     12,
		Lines:            30,
		TrialBalance:     "0",
		Elapsed:          1500 * time.Millisecond,
		EventsEnumerated: 14,
		ValidationErrors: []string{"invoice:9: transaction debits do not equal credits"},
	}

	out := captureOutput(t, func() {
		printReport(report)
	})

	for _, want := range []string{"dry_run", "complete", "12", "30", "Trial balance: 0", "1.5s", "invoice:9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected report output to contain %q:\n%s", want, out)
		}
	}
}
