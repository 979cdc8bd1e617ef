package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/idossha/structural/internal/logx"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
)

// Invocation is the child-process invocation C4 is asked to supervise
// (spec.md §3's Stage: "a child-process invocation synthesized by the
// core").
type Invocation struct {
	Stage      Name
	Executable string
	Args       []string
	WorkDir    string
	Env        []string // full child environment, already composed by the caller
	Inputs     []string // required input paths, checked in order (spec.md §4.4 step 1)
	OutputRoot string    // consulted by the overwrite policy (spec.md §4.4 step 2)
}

// Outcome is the StageOutcome of spec.md §3.
type Outcome struct {
	Stage      Name
	Status     Status
	Duration   time.Duration
	LogPath    string
	Rule       string // which classifier rule fired, or which precondition/skip reason
	Before     resource.Snapshot
	After      resource.Snapshot
}

// Run executes C4's algorithm (spec.md §4.4) for one stage invocation.
func Run(ctx context.Context, inv Invocation, logger *logx.Logger, policy overwrite.Policy, monitor resource.Monitor) (Outcome, error) {
	out := Outcome{Stage: inv.Stage, LogPath: logger.Path()}

	// Step 1: precondition check.
	for _, in := range inv.Inputs {
		if !readable(in) {
			out.Status = SkippedPrecondition
			out.Rule = fmt.Sprintf("missing or unreadable input: %s", in)
			logger.Warnf("stage %s: %s", inv.Stage, out.Rule)
			return out, nil
		}
	}

	// Step 2: output gate.
	decision, err := policy.Decide(ctx, inv.OutputRoot)
	if err != nil {
		return out, fmt.Errorf("overwrite policy for %s: %w", inv.OutputRoot, err)
	}
	if decision == overwrite.Skip {
		out.Status = SkippedExists
		out.Rule = fmt.Sprintf("output already exists: %s", inv.OutputRoot)
		logger.Infof("stage %s: %s", inv.Stage, out.Rule)
		return out, nil
	}

	// Step 3: resource pre-snapshot.
	out.Before = monitor.Snapshot(ctx, fmt.Sprintf("before %s", inv.Stage))
	logger.SnapshotInfof("%s", out.Before.Line())

	start := time.Now()

	// Step 4-6: spawn, stream, classify.
	exitCode, output, runErr := spawnAndStream(ctx, inv, logger)
	out.Duration = time.Since(start)

	interrupted := ctx.Err() != nil

	// Step 7: resource post-snapshot.
	out.After = monitor.Snapshot(context.Background(), fmt.Sprintf("after %s", inv.Stage))
	logger.SnapshotInfof("%s", out.After.Line())

	if interrupted {
		// Step 9: interrupt handling performs step 8's cleanup and returns ABORTED.
		cleanupOutput(inv.OutputRoot, logger)
		out.Status = Aborted
		out.Rule = "cancelled"
		logger.Warnf("stage %s aborted by cancellation", inv.Stage)
		return out, nil
	}

	if runErr != nil {
		return out, fmt.Errorf("spawning %s: %w", inv.Executable, runErr)
	}

	status, rule := Classify(inv.Stage, output, exitCode)
	out.Status = status
	out.Rule = rule

	// Step 8: cleanup on failure.
	if status == Failed {
		cleanupOutput(inv.OutputRoot, logger)
	}

	return out, nil
}

func readable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func cleanupOutput(root string, logger *logx.Logger) {
	if root == "" {
		return
	}
	if err := os.RemoveAll(root); err != nil {
		logger.Warnf("cleanup of %s failed: %v", root, err)
		return
	}
	logger.Infof("removed partial output tree %s", root)
}

// spawnAndStream starts the child, tees its stdout/stderr to the logger
// line by line, and returns the exit code and the combined captured
// output for classification. Grounded on the teacher's subprocess
// lifecycle (SysProcAttr{Setpgid:true}, cmd.Cancel sending SIGTERM to the
// process group, WaitDelay before a forceful kill).
func spawnAndStream(ctx context.Context, inv Invocation, logger *logx.Logger) (int, string, error) {
	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Dir = inv.WorkDir
	cmd.Env = inv.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("starting %s: %w", inv.Executable, err)
	}

	var captured strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go teeLines(stdout, logger, &captured, &mu, &wg)
	go teeLines(stderr, logger, &captured, &mu, &wg)
	wg.Wait()

	code, waitErr := exitCode(cmd.Wait())
	if waitErr != nil {
		return 0, captured.String(), waitErr
	}
	return code, captured.String(), nil
}

func teeLines(r io.Reader, logger *logx.Logger, captured *strings.Builder, mu *sync.Mutex, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logger.ChildLine(line)
		mu.Lock()
		captured.WriteString(line)
		captured.WriteByte('\n')
		mu.Unlock()
	}
}

// exitCode extracts an exit code from a command error, as the teacher's
// dispatch.exitCode helper does.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
