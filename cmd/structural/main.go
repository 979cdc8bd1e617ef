// Command structural drives the pre-processing orchestrator: it parses a
// project's subject list and stage flags, materializes the BIDS layout,
// schedules DICOM/CHARM/RECON/TISSUE across the requested subjects, and
// reports the aggregate outcome. Grounded on the teacher's cmd/orc/main.go
// wiring (run/status/doctor/docs commands over a urfave/cli/v3 app).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/idossha/structural/internal/atlas"
	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/config"
	"github.com/idossha/structural/internal/console"
	"github.com/idossha/structural/internal/dicom"
	"github.com/idossha/structural/internal/docs"
	"github.com/idossha/structural/internal/job"
	"github.com/idossha/structural/internal/logx"
	"github.com/idossha/structural/internal/outcome"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
	"github.com/idossha/structural/internal/scheduler"
	"github.com/idossha/structural/internal/stage"
)

func main() {
	app := &cli.Command{
		Name:        "structural",
		Usage:       "Structural pre-processing orchestrator",
		Description: "Run 'structural docs' for documentation on project layout, stages, scheduling, and more.",
		Commands: []*cli.Command{
			runCmd(),
			statusCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", console.Red, console.Reset, err)
		os.Exit(1)
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the pipeline for one or more subjects",
		ArgsUsage: "[<project>/sub-<id> ...] [recon-all]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "convert-dicom", Usage: "enable the DICOM stage"},
			&cli.BoolFlag{Name: "create-m2m", Usage: "enable the CHARM stage"},
			&cli.BoolFlag{Name: "tissue-analysis", Usage: "enable the TISSUE stage"},
			&cli.BoolFlag{Name: "recon-only", Usage: "enable RECON only; suppress every other stage"},
			&cli.BoolFlag{Name: "parallel", Usage: "process subjects concurrently (CHARM still serialized)"},
			&cli.IntFlag{Name: "cores", Usage: "cap concurrency (parallel) or pin thread count (sequential)"},
			&cli.StringFlag{Name: "subjects", Usage: "comma-separated subject IDs; requires PROJECT_DIR_NAME"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	flags := config.Flags{
		EnableDicom:  cmd.Bool("convert-dicom"),
		EnableCharm:  cmd.Bool("create-m2m"),
		EnableTissue: cmd.Bool("tissue-analysis"),
		ReconOnly:    cmd.Bool("recon-only"),
		Parallel:     cmd.Bool("parallel"),
		Cores:        int(cmd.Int("cores")),
	}

	projectRoot, refs, err := resolveSubjects(cmd)
	if err != nil {
		return err
	}

	for _, arg := range cmd.Args().Slice() {
		if arg == "recon-all" {
			flags.EnableRecon = true
		}
	}

	if len(flags.Stages()) == 0 {
		return fmt.Errorf("no stage enabled: pass recon-all, --convert-dicom, --create-m2m, --tissue-analysis, or --recon-only")
	}

	refs, duplicates := bids.Dedup(refs)
	if len(duplicates) > 0 {
		return fmt.Errorf("duplicate subject ids: %v", duplicates)
	}
	if len(refs) == 0 {
		return fmt.Errorf("no subjects named: give <project>/sub-<id> arguments or --subjects id1,id2,...")
	}

	layout, err := bids.NewLayout(projectRoot)
	if err != nil {
		return err
	}
	if err := bids.Materialize(layout, refs); err != nil {
		return fmt.Errorf("materializing layout: %w", err)
	}

	env := config.LoadEnv()
	projectConfig, err := config.LoadProjectConfig(filepath.Join(projectRoot, ".structural", "config.yaml"))
	if err != nil {
		return err
	}
	gate := atlas.NewGate(projectConfig.Atlases)

	policy := overwrite.Policy{
		Overwrite: env.Overwrite,
		Prompt:    env.PromptOverwrite,
		IsTTY:     overwrite.DetectTTY(),
	}
	if flags.Parallel {
		// Parallel mode runs multiple subject workers concurrently; a
		// shared os.Stdin read across goroutines would race and
		// garble prompts. Spec.md §9 calls for a FixedResponse here
		// instead: treat a prompt as declined rather than risk two
		// workers reading the same answer or racing on stdin.
		policy.Responder = overwrite.FixedResponse(false)
	}
	monitor := resource.Monitor{DerivativesRoot: filepath.Join(projectRoot, "derivatives")}

	cores := flags.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	threadBudget := cores
	if flags.Parallel {
		threadBudget = 1
	}

	runStamp := time.Now().UTC().Format("20060102T150405Z")
	jobs := make([]*job.Job, 0, len(refs))
	var loggers []*logx.Logger
	defer func() {
		for _, l := range loggers {
			l.Close()
		}
	}()
	for _, ref := range refs {
		ws := layout.Workspace(ref)
		if err := os.MkdirAll(ws.LogDir, 0755); err != nil {
			return fmt.Errorf("creating log directory for subject %s: %w", ref.ID, err)
		}
		logPath := filepath.Join(ws.LogDir, fmt.Sprintf("preprocessing_%s.log", runStamp))
		logger, err := logx.New(logPath, ref.ID, env.Debug)
		if err != nil {
			return fmt.Errorf("opening log for subject %s: %w", ref.ID, err)
		}
		loggers = append(loggers, logger)
		jobs = append(jobs, job.New(ref, ws, logger))
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	sched := &scheduler.Scheduler{
		Flags:        flags,
		Policy:       policy,
		Monitor:      monitor,
		Gate:         gate,
		Cores:        threadBudget,
		Build:        buildInvocation(layout),
		StageTimeout: scheduler.BuildStageTimeouts(projectConfig.StageTimeoutMin),
		AfterStage: func(j *job.Job, name stage.Name, out stage.Outcome, attempted bool) {
			if name != stage.DICOM || !attempted || out.Status != stage.Success {
				return
			}
			if err := dicom.Canonicalize(runCtx, j.Workspace, policy); err != nil {
				j.Logger.Errorf("canonicalizing DICOM output for subject %s: %v", j.Subject.ID, err)
			}
		},
	}
	if flags.Parallel {
		sched.MaxConcurrency = min(cores, len(jobs))
	}

	startedAt := time.Now().UTC()
	if flags.Parallel {
		sched.RunParallel(runCtx, jobs)
	} else {
		sched.RunSequential(runCtx, jobs)
	}

	requested := make([]stage.Name, 0, 4)
	for _, s := range flags.Stages() {
		requested = append(requested, stage.Name(s))
	}

	summary := &outcome.Summary{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
	}
	var succeeded int
	var failed []console.FailedSubject
	for _, j := range jobs {
		rec := outcome.FromJob(j, requested)
		summary.Subjects = append(summary.Subjects, rec)
		if rec.Verdict == job.VerdictSuccess {
			succeeded++
		} else {
			failed = append(failed, console.FailedSubject{SubjectID: j.Subject.ID, LogPath: j.Logger.Path()})
		}
	}
	summary.EndedAt = time.Now().UTC()

	if err := outcome.Save(layout.TILogs, summary); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save run summary: %v\n", err)
	}

	console.Summary(len(jobs), succeeded, failed)

	if len(failed) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// resolveSubjects implements the invocation parsing of spec.md §4.8: any
// argument whose basename matches sub-<id> names a subject, deriving the
// project root from its parent directory; --subjects supplies IDs
// directly and requires PROJECT_DIR_NAME in the environment.
func resolveSubjects(cmd *cli.Command) (string, []bids.SubjectRef, error) {
	var projectRoot string
	var refs []bids.SubjectRef

	for _, arg := range cmd.Args().Slice() {
		if arg == "recon-all" {
			continue
		}
		base := filepath.Base(arg)
		if !strings.HasPrefix(base, "sub-") {
			return "", nil, fmt.Errorf("unrecognized argument %q (expected a <project>/sub-<id> path or the 'recon-all' flag)", arg)
		}
		root := filepath.Dir(arg)
		if projectRoot == "" {
			projectRoot = root
		} else if root != projectRoot {
			return "", nil, fmt.Errorf("subject path %q does not share project root %q", arg, projectRoot)
		}
		ref, err := bids.ParseSubjectRef(arg)
		if err != nil {
			return "", nil, err
		}
		refs = append(refs, ref)
	}

	if subjectsFlag := cmd.String("subjects"); subjectsFlag != "" {
		env := config.LoadEnv()
		if env.ProjectDirName == "" {
			return "", nil, fmt.Errorf("--subjects requires PROJECT_DIR_NAME to be set")
		}
		if projectRoot != "" && projectRoot != env.ProjectDirName {
			return "", nil, fmt.Errorf("--subjects' PROJECT_DIR_NAME (%q) conflicts with subject path argument root (%q)", env.ProjectDirName, projectRoot)
		}
		projectRoot = env.ProjectDirName
		for _, raw := range strings.Split(subjectsFlag, ",") {
			id := strings.TrimSpace(raw)
			if id == "" {
				continue
			}
			ref, err := bids.ParseSubjectRef(id)
			if err != nil {
				return "", nil, err
			}
			refs = append(refs, ref)
		}
	}

	return projectRoot, refs, nil
}

// buildInvocation synthesizes the child-process invocation for one
// job/stage pair (C10's registry), using the fixed argument layout each
// external stage is documented to accept. DICOM's declared output root is
// the canonical T1w file the scheduler's AfterStage hook expects to find
// once the canonicalization pass (spec.md §6.3) has run; every other
// stage's output root is the directory the external tool itself creates,
// left absent by Materialize so the overwrite policy can tell a fresh run
// from a completed one.
func buildInvocation(layout *bids.ProjectLayout) scheduler.Build {
	return func(j *job.Job, name stage.Name, cores int) stage.Invocation {
		ws := j.Workspace
		env := scheduler.ChildEnv(cores, nil)

		switch name {
		case stage.DICOM:
			// No --out: dcm2niix_batch drops each nii.gz/json pair
			// alongside its DICOM source (spec.md §6.3), which is
			// exactly where dicom.Canonicalize scans afterward.
			return stage.Invocation{
				Stage:      stage.DICOM,
				Executable: "dcm2niix_batch",
				Args:       []string{"--t1", ws.DicomT1, "--t2", ws.DicomT2},
				WorkDir:    ws.Anat,
				Env:        env,
				Inputs:     []string{ws.DicomT1},
				OutputRoot: canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T1w"),
			}
		case stage.CHARM:
			return stage.Invocation{
				Stage:      stage.CHARM,
				Executable: "charm",
				Args:       []string{ws.Subject.ID, canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T1w"), canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T2w")},
				WorkDir:    filepath.Dir(ws.M2M),
				Env:        env,
				Inputs:     []string{canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T1w")},
				OutputRoot: ws.M2M,
			}
		case stage.RECON:
			return stage.Invocation{
				Stage:      stage.RECON,
				Executable: "recon-all",
				Args:       []string{"-subjid", ws.Subject.BIDSName(), "-i", canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T1w"), "-all"},
				WorkDir:    layout.Freesurfer,
				Env:        env,
				Inputs:     []string{canonicalPath(ws.Anat, ws.Subject.BIDSName(), "T1w")},
				OutputRoot: ws.Freesurfer,
			}
		case stage.TISSUE:
			labeling := filepath.Join(ws.M2M, "segmentation", "Labeling.nii.gz")
			return stage.Invocation{
				Stage:      stage.TISSUE,
				Executable: "tissue-analysis",
				Args:       []string{labeling, ws.TissueRoot},
				WorkDir:    layout.TITissue,
				Env:        env,
				Inputs:     []string{labeling},
				OutputRoot: ws.TissueRoot,
			}
		default:
			return stage.Invocation{}
		}
	}
}

func canonicalPath(anatDir, bidsName, scanType string) string {
	return filepath.Join(anatDir, fmt.Sprintf("%s_%s.nii.gz", bidsName, scanType))
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the last run's per-subject outcomes",
		ArgsUsage: "<project>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectRoot := cmd.Args().First()
			if projectRoot == "" {
				return fmt.Errorf("project argument is required")
			}
			layout, err := bids.NewLayout(projectRoot)
			if err != nil {
				return err
			}
			summary, err := outcome.Load(layout.TILogs)
			if err != nil {
				return err
			}
			if len(summary.Subjects) == 0 {
				fmt.Println("no prior run summary found")
				return nil
			}
			fmt.Printf("%srun %s%s  %s -> %s\n", console.Bold, summary.RunID, console.Reset, summary.StartedAt.Format(time.RFC3339), summary.EndedAt.Format(time.RFC3339))
			for _, rec := range summary.Subjects {
				fmt.Printf("  %-12s %s\n", rec.SubjectID, rec.Verdict)
				for _, s := range rec.Stages {
					fmt.Printf("    %-8s %-22s %s\n", s.Stage, s.Status, s.Rule)
				}
			}
			return nil
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:      "doctor",
		Usage:     "Explain why a subject's last run failed",
		ArgsUsage: "<project> <subject-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectRoot := cmd.Args().Get(0)
			subjectID := cmd.Args().Get(1)
			if projectRoot == "" || subjectID == "" {
				return fmt.Errorf("usage: structural doctor <project> <subject-id>")
			}
			layout, err := bids.NewLayout(projectRoot)
			if err != nil {
				return err
			}
			summary, err := outcome.Load(layout.TILogs)
			if err != nil {
				return err
			}
			for _, rec := range summary.Subjects {
				if rec.SubjectID != subjectID {
					continue
				}
				if rec.Verdict == job.VerdictSuccess {
					fmt.Printf("subject %s succeeded; nothing to diagnose\n", subjectID)
					return nil
				}
				for _, s := range rec.Stages {
					if s.Status == stage.Failed || s.Status == stage.SkippedPrecondition || s.Status == stage.Aborted {
						fmt.Printf("stage %s: %s\n  rule: %s\n  log: %s\n", s.Stage, s.Status, s.Rule, s.LogPath)
					}
				}
				return nil
			}
			return fmt.Errorf("no run summary entry for subject %q", subjectID)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'structural docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
