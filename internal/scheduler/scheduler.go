// Package scheduler implements C7: driving a set of subject jobs through
// the fixed stage order, either one subject at a time (sequential mode)
// or stage-by-stage across every subject (parallel mode), with CHARM
// always serialized regardless of mode.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/idossha/structural/internal/atlas"
	"github.com/idossha/structural/internal/config"
	"github.com/idossha/structural/internal/job"
	"github.com/idossha/structural/internal/overwrite"
	"github.com/idossha/structural/internal/resource"
	"github.com/idossha/structural/internal/stage"
)

// Build synthesizes the Invocation for one job/stage pair. The caller
// (C8) owns the domain knowledge of which executable and arguments each
// stage needs; the scheduler only knows the fixed order and the
// concurrency discipline.
type Build func(j *job.Job, name stage.Name, cores int) stage.Invocation

// Scheduler drives a batch of jobs to completion.
type Scheduler struct {
	Flags   config.Flags
	Policy  overwrite.Policy
	Monitor resource.Monitor
	Gate    *atlas.Gate
	Build   Build
	Cores   int // resolved thread budget per subject, 0 meaning "let the child decide"

	// MaxConcurrency bounds how many subjects run a non-CHARM stage at
	// once in RunParallel (spec.md §4.7: "bounded by cores_hint if
	// present, else detected core count, capped at the number of
	// subjects"). 0 or less means unbounded.
	MaxConcurrency int

	// AfterStage, if set, runs once a stage attempt finishes (whether or
	// not it was actually attempted). Used by the caller to perform
	// work that depends on a stage's outcome but isn't itself an
	// external process invocation, such as the DICOM canonicalization
	// pass of spec.md §6.3.
	AfterStage func(j *job.Job, name stage.Name, out stage.Outcome, attempted bool)

	// StageTimeout overrides the per-stage deadline from the project
	// config's stage-timeout-minutes map. A stage absent from the map, or
	// given a zero duration, runs with no deadline of its own beyond the
	// run's own cancellation.
	StageTimeout map[stage.Name]time.Duration
}

// BuildStageTimeouts converts a project config's minute-granularity
// overrides into the duration map RunSequential/RunParallel consult.
func BuildStageTimeouts(minutes map[string]int) map[stage.Name]time.Duration {
	out := make(map[stage.Name]time.Duration, len(minutes))
	for name, m := range minutes {
		if m > 0 {
			out[stage.Name(name)] = time.Duration(m) * time.Minute
		}
	}
	return out
}

// threadEnvNames is the fixed set of thread-count variables every stage's
// numeric library family reads, mirrored onto --cores so a user doesn't
// have to set six variables by hand.
var threadEnvNames = []string{
	"OMP_NUM_THREADS",
	"MKL_NUM_THREADS",
	"OPENBLAS_NUM_THREADS",
	"VECLIB_MAXIMUM_THREADS",
	"ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS",
	"NUMBA_NUM_THREADS",
}

// ChildEnv returns the base environment (os.Environ by default) with the
// thread-count family pinned to cores. cores <= 0 leaves the inherited
// environment untouched.
func ChildEnv(cores int, base []string) []string {
	if base == nil {
		base = os.Environ()
	}
	if cores <= 0 {
		return base
	}
	env := make([]string, len(base))
	copy(env, base)
	for _, name := range threadEnvNames {
		env = append(env, fmt.Sprintf("%s=%d", name, cores))
	}
	return env
}

// enabledSet converts the flag-derived stage name strings into the set
// RunSequential/RunParallel filter Order against.
func enabledSet(names []string) map[stage.Name]bool {
	set := make(map[stage.Name]bool, len(names))
	for _, n := range names {
		set[stage.Name(n)] = true
	}
	return set
}

// RunSequential drives each job through every enabled stage, in order,
// before moving to the next job. This is the simplest discipline and the
// default when --parallel is not set (spec.md §4.7).
func (s *Scheduler) RunSequential(ctx context.Context, jobs []*job.Job) {
	enabled := enabledSet(s.Flags.Stages())
	for _, j := range jobs {
		for _, name := range job.Order {
			if !enabled[name] {
				continue
			}
			s.runOne(ctx, j, name)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// RunParallel drives all jobs stage-by-stage: every enabled stage forms a
// wave across the whole subject set, with a barrier before the next wave
// starts (spec.md §4.7). CHARM is exempt from the wave's concurrency and
// always runs one subject at a time, win or lose, because it is
// documented as unsafe to run concurrently on shared atlas resources.
func (s *Scheduler) RunParallel(ctx context.Context, jobs []*job.Job) {
	enabled := enabledSet(s.Flags.Stages())
	for _, name := range job.Order {
		if !enabled[name] {
			continue
		}
		if name == stage.CHARM {
			for _, j := range jobs {
				s.runOne(ctx, j, name)
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}

		var wg sync.WaitGroup
		var sem chan struct{}
		if s.MaxConcurrency > 0 {
			sem = make(chan struct{}, s.MaxConcurrency)
		}
		wg.Add(len(jobs))
		for _, j := range jobs {
			j := j
			go func() {
				defer wg.Done()
				if sem != nil {
					sem <- struct{}{}
					defer func() { <-sem }()
				}
				s.runOne(ctx, j, name)
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, j *job.Job, name stage.Name) {
	if d, ok := s.StageTimeout[name]; ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	inv := s.Build(j, name, s.Cores)
	out, attempted := j.RunStage(ctx, name, inv, s.Policy, s.Monitor, s.Gate)
	if s.AfterStage != nil {
		s.AfterStage(j, name, out, attempted)
	}
}
