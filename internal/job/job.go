// Package job implements C6, the per-subject state machine of spec.md
// §4.6: CREATED -> LAYOUT_READY -> {DICOM*} -> {CHARM*} -> {RECON*} ->
// {TISSUE*} -> DONE(ok|fail). A Job tracks one subject through the fixed
// stage order, propagating blocked state along the fixed dependency
// edges so a stage never runs on top of a failed, aborted or blocked
// prerequisite.
package job

import (
	"context"

	"github.com/idossha/structural/internal/atlas"
	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/logx"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
	"github.com/idossha/structural/internal/stage"
)

// Order is the fixed stage order of spec.md §4.6's state diagram.
var Order = []stage.Name{stage.DICOM, stage.CHARM, stage.RECON, stage.TISSUE}

// dependsOn is the fixed dependency edge map: CHARM and RECON both need
// DICOM's output; TISSUE needs CHARM's.
var dependsOn = map[stage.Name][]stage.Name{
	stage.CHARM:  {stage.DICOM},
	stage.RECON:  {stage.DICOM},
	stage.TISSUE: {stage.CHARM},
}

// Verdict is the subject's terminal DONE state.
type Verdict string

const (
	VerdictSuccess Verdict = "SUCCESS"
	VerdictFailed  Verdict = "FAILED"
)

// Job carries one subject through its workspace's stages. A Job is not
// safe for concurrent use by multiple goroutines; the scheduler (C7)
// owns exactly one goroutine per job at a time.
type Job struct {
	Subject   bids.SubjectRef
	Workspace bids.SubjectWorkspace
	Logger    *logx.Logger

	Outcomes []stage.Outcome

	blocked    map[stage.Name]bool
	lastStatus map[stage.Name]stage.Status
}

// New returns a freshly CREATED job for the given subject workspace.
func New(subject bids.SubjectRef, workspace bids.SubjectWorkspace, logger *logx.Logger) *Job {
	return &Job{
		Subject:    subject,
		Workspace:  workspace,
		Logger:     logger,
		blocked:    make(map[stage.Name]bool),
		lastStatus: make(map[stage.Name]stage.Status),
	}
}

// Eligible reports whether name can be attempted. It blocks only on a
// prerequisite that was itself blocked, or that ran and ended Failed or
// Aborted (spec.md §4.6: the dependency block fires on a prerequisite
// that ran and failed, not on one that was simply never enabled this
// invocation). A prerequisite with no recorded status at all — not
// requested this run, such as DICOM under --recon-only — does not block
// its dependent: the dependent proceeds to its own precondition check
// (C4 step 1 / C9's atlas gate), which is what actually determines
// whether its required input exists.
func (j *Job) Eligible(name stage.Name) bool {
	for _, dep := range dependsOn[name] {
		if j.blocked[dep] {
			return false
		}
		switch j.lastStatus[dep] {
		case stage.Failed, stage.Aborted:
			return false
		}
	}
	return true
}

// RunStage attempts one stage if it is eligible, recording the outcome
// and updating blocked/lastStatus for downstream dependents. It is the
// primitive the scheduler calls, usable from both sequential mode (one
// job runs all four stages back to back) and parallel mode (the
// scheduler calls RunStage for one stage name across a wave of jobs).
//
// Atlas/config requirements are checked before the subprocess is
// spawned (spec.md §4.9): a missing requirement marks the stage
// SKIPPED_PRECONDITION without invoking stage.Run at all.
func (j *Job) RunStage(ctx context.Context, name stage.Name, inv stage.Invocation, policy overwrite.Policy, monitor resource.Monitor, gate *atlas.Gate) (stage.Outcome, bool) {
	if !j.Eligible(name) {
		j.blocked[name] = true
		return stage.Outcome{}, false
	}

	index, total := stagePosition(name)
	j.Logger.StageStarting(index, total, string(name))

	var out stage.Outcome
	if ok, missing := gate.Check(name); !ok {
		out = stage.Outcome{
			Stage:  name,
			Status: stage.SkippedPrecondition,
			Rule:   "missing atlas/config requirement: " + missing,
		}
		j.Logger.Warnf("subject %s: stage %s: %s", j.Subject.ID, name, out.Rule)
	} else {
		var err error
		out, err = stage.Run(ctx, inv, j.Logger, policy, monitor)
		if err != nil {
			j.Logger.Errorf("subject %s: stage %s: %v", j.Subject.ID, name, err)
			out.Status = stage.Failed
			out.Rule = err.Error()
		}
	}

	j.Outcomes = append(j.Outcomes, out)
	j.lastStatus[name] = out.Status
	j.Logger.StageFinished(string(name), string(out.Status), out.Duration)
	return out, true
}

// stagePosition reports name's fixed 0-based position within Order and
// the total stage count, used for the "stage X/4 starting" console
// banner (spec.md §4.3). The position is fixed regardless of which
// stages a given invocation actually enables, so banners stay
// consistent across --recon-only, partial, and full runs alike.
func stagePosition(name stage.Name) (index, total int) {
	total = len(Order)
	for i, n := range Order {
		if n == name {
			return i, total
		}
	}
	return 0, total
}

// Verdict computes the subject's terminal state per spec.md §4.6: SUCCESS
// iff every stage in requested (the stages the run actually enabled) was
// attempted and ended Success or SkippedExists, with none blocked.
func (j *Job) Verdict(requested []stage.Name) Verdict {
	for _, name := range requested {
		if j.blocked[name] {
			return VerdictFailed
		}
		switch j.lastStatus[name] {
		case stage.Success, stage.SkippedExists:
		default:
			return VerdictFailed
		}
	}
	return VerdictSuccess
}
