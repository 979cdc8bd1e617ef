package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/idossha/structural/internal/logx"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
)

func newTestLogger(t *testing.T) *logx.Logger {
	t.Helper()
	l, err := logx.New(filepath.Join(t.TempDir(), "stage.log"), "101", false)
	if err != nil {
		t.Fatalf("logx.New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRun_SkippedPrecondition(t *testing.T) {
	dir := t.TempDir()
	inv := Invocation{
		Stage:      TISSUE,
		Executable: "true",
		Inputs:     []string{filepath.Join(dir, "missing-input.nii.gz")},
		OutputRoot: filepath.Join(dir, "out"),
	}
	out, err := Run(context.Background(), inv, newTestLogger(t), overwrite.Policy{}, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != SkippedPrecondition {
		t.Fatalf("Status = %v, want SkippedPrecondition", out.Status)
	}
}

func TestRun_SkippedExists(t *testing.T) {
	dir := t.TempDir()
	outputRoot := filepath.Join(dir, "out")
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		t.Fatal(err)
	}
	inv := Invocation{
		Stage:      RECON,
		Executable: "true",
		OutputRoot: outputRoot,
	}
	policy := overwrite.Policy{Overwrite: false, Prompt: false}
	out, err := Run(context.Background(), inv, newTestLogger(t), policy, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != SkippedExists {
		t.Fatalf("Status = %v, want SkippedExists", out.Status)
	}
	if _, statErr := os.Stat(outputRoot); statErr != nil {
		t.Fatalf("expected output root to remain: %v", statErr)
	}
}

func TestRun_SuccessViaExitCode(t *testing.T) {
	dir := t.TempDir()
	inv := Invocation{
		Stage:      DICOM,
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo hello; exit 0"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: filepath.Join(dir, "out"),
	}
	out, err := Run(context.Background(), inv, newTestLogger(t), overwrite.Policy{}, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != Success {
		t.Fatalf("Status = %v, want Success", out.Status)
	}
}

func TestRun_FailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	outputRoot := filepath.Join(dir, "partial-out")
	inv := Invocation{
		Stage:      CHARM,
		Executable: "/bin/sh",
		Args:       []string{"-c", "mkdir -p " + outputRoot + "; echo boom 1>&2; exit 1"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: outputRoot,
	}
	out, err := Run(context.Background(), inv, newTestLogger(t), overwrite.Policy{}, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != Failed {
		t.Fatalf("Status = %v, want Failed", out.Status)
	}
	if _, statErr := os.Stat(outputRoot); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output tree to be removed, stat err = %v", statErr)
	}
}

func TestRun_SuccessMarkerOverridesExitCode(t *testing.T) {
	dir := t.TempDir()
	inv := Invocation{
		Stage:      RECON,
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo 'recon-all -subjid sub-101 finished without error'; exit 1"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: filepath.Join(dir, "out"),
	}
	out, err := Run(context.Background(), inv, newTestLogger(t), overwrite.Policy{}, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != Success {
		t.Fatalf("Status = %v, want Success despite non-zero exit", out.Status)
	}
}

func TestRun_Aborted(t *testing.T) {
	dir := t.TempDir()
	outputRoot := filepath.Join(dir, "out")
	ctx, cancel := context.WithCancel(context.Background())

	inv := Invocation{
		Stage:      RECON,
		Executable: "/bin/sh",
		Args:       []string{"-c", "mkdir -p " + outputRoot + "; sleep 30"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: outputRoot,
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	out, err := Run(ctx, inv, newTestLogger(t), overwrite.Policy{}, resource.Monitor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != Aborted {
		t.Fatalf("Status = %v, want Aborted", out.Status)
	}
}
