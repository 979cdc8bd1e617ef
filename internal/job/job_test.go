package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/idossha/structural/internal/atlas"
	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/config"
	"github.com/idossha/structural/internal/logx"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
	"github.com/idossha/structural/internal/stage"
)

func newTestJob(t *testing.T) *Job {
	t.Helper()
	l, err := logx.New(filepath.Join(t.TempDir(), "job.log"), "101", false)
	if err != nil {
		t.Fatalf("logx.New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return New(bids.SubjectRef{ID: "101"}, bids.SubjectWorkspace{}, l)
}

func successInvocation(t *testing.T, name stage.Name) stage.Invocation {
	t.Helper()
	dir := t.TempDir()
	return stage.Invocation{
		Stage:      name,
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 0"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: filepath.Join(dir, "out"),
	}
}

func failInvocation(t *testing.T, name stage.Name) stage.Invocation {
	t.Helper()
	dir := t.TempDir()
	return stage.Invocation{
		Stage:      name,
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 1"},
		WorkDir:    dir,
		Env:        os.Environ(),
		OutputRoot: filepath.Join(dir, "out"),
	}
}

func TestRunStage_DependencyBlocksDownstream(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	out, attempted := j.RunStage(ctx, stage.DICOM, failInvocation(t, stage.DICOM), policy, monitor, nil)
	if !attempted || out.Status != stage.Failed {
		t.Fatalf("expected DICOM to be attempted and fail, got attempted=%v status=%v", attempted, out.Status)
	}

	_, attempted = j.RunStage(ctx, stage.CHARM, successInvocation(t, stage.CHARM), policy, monitor, nil)
	if attempted {
		t.Fatal("expected CHARM to be blocked by failed DICOM, but it was attempted")
	}

	_, attempted = j.RunStage(ctx, stage.TISSUE, successInvocation(t, stage.TISSUE), policy, monitor, nil)
	if attempted {
		t.Fatal("expected TISSUE to be blocked transitively through CHARM")
	}

	verdict := j.Verdict(Order)
	if verdict != VerdictFailed {
		t.Fatalf("Verdict = %v, want FAILED", verdict)
	}
}

func TestRunStage_SuccessChainPropagates(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	requested := []stage.Name{stage.DICOM, stage.CHARM, stage.TISSUE}
	for _, name := range requested {
		out, attempted := j.RunStage(ctx, name, successInvocation(t, name), policy, monitor, nil)
		if !attempted {
			t.Fatalf("stage %s: expected to be attempted", name)
		}
		if out.Status != stage.Success {
			t.Fatalf("stage %s: status = %v, want Success", name, out.Status)
		}
	}

	if v := j.Verdict(requested); v != VerdictSuccess {
		t.Fatalf("Verdict = %v, want SUCCESS", v)
	}
}

func TestRunStage_AtlasGateBlocksWithoutSpawning(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	dir := t.TempDir()
	missing := filepath.Join(dir, "atlas.nii.gz")
	gate := atlas.NewGate([]config.StageRequirement{{Stage: "CHARM", Path: missing}})

	out, attempted := j.RunStage(ctx, stage.CHARM, successInvocation(t, stage.CHARM), policy, monitor, gate)
	if !attempted {
		t.Fatal("expected a precondition outcome to be recorded as attempted")
	}
	if out.Status != stage.SkippedPrecondition {
		t.Fatalf("Status = %v, want SkippedPrecondition", out.Status)
	}
}

func TestEligible_UnattemptedDependencyDoesNotBlock(t *testing.T) {
	j := newTestJob(t)
	if !j.Eligible(stage.CHARM) {
		t.Fatal("expected CHARM to be eligible when DICOM was never enabled this run, not merely unattempted")
	}
}

func TestEligible_FailedDependencyBlocks(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	if _, attempted := j.RunStage(ctx, stage.DICOM, failInvocation(t, stage.DICOM), policy, monitor, nil); !attempted {
		t.Fatal("expected DICOM to be attempted")
	}
	if j.Eligible(stage.CHARM) {
		t.Fatal("expected CHARM to be ineligible after DICOM failed")
	}
}

func TestRunStage_EmitsStageBoundaryBanners(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "job.log")
	l, err := logx.New(logPath, "101", false)
	if err != nil {
		t.Fatalf("logx.New: %v", err)
	}
	j := New(bids.SubjectRef{ID: "101"}, bids.SubjectWorkspace{}, l)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	if _, attempted := j.RunStage(ctx, stage.DICOM, successInvocation(t, stage.DICOM), policy, monitor, nil); !attempted {
		t.Fatal("expected DICOM to be attempted")
	}
	l.Close()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	log := string(contents)
	if !strings.Contains(log, "stage DICOM starting (1/4)") {
		t.Fatalf("log missing stage-starting banner, got: %s", log)
	}
	if !strings.Contains(log, "stage DICOM finished in") {
		t.Fatalf("log missing stage-finished banner, got: %s", log)
	}
}

func TestRunStage_ReconOnlyRunsWithoutDicomEnabled(t *testing.T) {
	// Mirrors spec.md §6.1's --recon-only invocation: DICOM is never
	// enabled this run (no lastStatus recorded for it at all), so RECON
	// must still be attempted rather than permanently blocked.
	j := newTestJob(t)
	ctx := context.Background()
	policy := overwrite.Policy{}
	monitor := resource.Monitor{}

	out, attempted := j.RunStage(ctx, stage.RECON, successInvocation(t, stage.RECON), policy, monitor, nil)
	if !attempted {
		t.Fatal("expected RECON to be attempted when DICOM was never enabled this run")
	}
	if out.Status != stage.Success {
		t.Fatalf("status = %v, want Success", out.Status)
	}

	requested := []stage.Name{stage.RECON}
	if v := j.Verdict(requested); v != VerdictSuccess {
		t.Fatalf("Verdict = %v, want SUCCESS", v)
	}
}
