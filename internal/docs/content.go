package docs

var topics = []Topic{
	{
		Name:    "layout",
		Title:   "Project Layout",
		Summary: "The BIDS directory tree the orchestrator creates and expects",
		Content: topicLayout,
	},
	{
		Name:    "stages",
		Title:   "Stages",
		Summary: "DICOM, CHARM, RECON, TISSUE and how dependencies block them",
		Content: topicStages,
	},
	{
		Name:    "scheduling",
		Title:   "Scheduling",
		Summary: "Sequential vs. parallel execution, and the CHARM barrier",
		Content: topicScheduling,
	},
	{
		Name:    "environment",
		Title:   "Environment Variables",
		Summary: "DEBUG, OVERWRITE, PROMPT_OVERWRITE, PROJECT_DIR_NAME",
		Content: topicEnvironment,
	},
	{
		Name:    "overwrite",
		Title:   "Overwrite Policy",
		Summary: "How existing stage output is detected and handled",
		Content: topicOverwrite,
	},
}

const topicLayout = `Project Layout
==============

A project directory is a BIDS-like tree:

  <project>/
    sourcedata/sub-<id>/T1w/dicom/
    sourcedata/sub-<id>/T2w/dicom/
    sub-<id>/anat/
    sub-<id>/anat/extra/
    derivatives/freesurfer/sub-<id>/
    derivatives/SimNIBS/sub-<id>/m2m_<id>/
    derivatives/ti-toolbox/logs/sub-<id>/
    derivatives/ti-toolbox/tissue_analysis/sub-<id>/
      bone_analysis/
      csf_analysis/

The project directory must be an existing, writable, absolute path with
no whitespace in its basename. "structural run <project>/sub-<id> ..."
creates the DICOM input, anat/, SimNIBS subject and log directories the
first time it sees a subject, and seeds dataset_description.json files
only if absent. Each stage's own output directory (freesurfer/sub-<id>,
m2m_<id>, tissue_analysis/sub-<id>) is left for that stage to create,
and is removed again when that stage fails, is aborted, or is
overwritten. anat/extra/ is created by the DICOM canonicalization pass.
`

const topicStages = `Stages
======

Four stages run in a fixed order: DICOM, CHARM, RECON, TISSUE.

  DICOM   converts sourcedata DICOM series to NIfTI under sub-<id>/anat.
  CHARM   segments the T1 (and T2, if present) into a head model.
  RECON   runs cortical surface reconstruction, independent of CHARM.
  TISSUE  derives bone/CSF tissue masks from CHARM's head model.

Dependencies:

  CHARM  depends on DICOM
  RECON  depends on DICOM
  TISSUE depends on CHARM

A stage whose dependency failed, was aborted, or was itself blocked is
never attempted — it is marked blocked and contributes no stage outcome
of its own, and that blocking propagates to its own dependents. A
subject's final verdict is SUCCESS only if every requested stage reached
SUCCESS or SKIPPED_EXISTS with nothing blocked.

Stage classification does not trust the exit code alone: each stage has
a fixed table of success/failure text markers scanned in its captured
stdout/stderr before falling back to the exit code. Only RECON currently
carries a documented success-marker override ("finished without error"),
since that is the one place the underlying tool is known to report a
misleading exit code.
`

const topicScheduling = `Scheduling
==========

Two scheduling disciplines:

  sequential (default)  Each subject runs all of its enabled stages, in
                         order, before the next subject starts.

  parallel (--parallel)  Every enabled stage becomes a wave across all
                          subjects, with a barrier before the next wave
                          starts. CHARM is the one exception: even in
                          parallel mode it runs one subject at a time,
                          since running it concurrently against shared
                          atlas resources is not supported.

Every spawned stage process gets the numeric-library thread variables
(OMP_NUM_THREADS, MKL_NUM_THREADS, OPENBLAS_NUM_THREADS,
VECLIB_MAXIMUM_THREADS, ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS,
NUMBA_NUM_THREADS) set explicitly. In sequential mode they are set to
--cores N, or to the detected CPU count when --cores is omitted. In
parallel mode they are set to 1, and --cores N (default: the detected
CPU count) instead caps how many subjects run a non-CHARM wave at once,
never more than the number of subjects.

A run-wide context is cancelled on SIGINT/SIGTERM/SIGHUP; any stage still
running is sent SIGTERM (then, after a grace window, killed) and its
outcome is recorded as ABORTED rather than FAILED.
`

const topicEnvironment = `Environment Variables
=====================

  DEBUG             true/1 lowers the log threshold to DEBUG and switches
                     the console to detail mode (every child process line
                     is echoed, not just stage boundaries). Default false.

  OVERWRITE          true/1 deletes existing stage output unconditionally
                     before re-running. Default false.

  PROMPT_OVERWRITE   true/1 (the default) asks on a TTY whether to
                     overwrite existing output; false skips instead of
                     asking. Has no effect once OVERWRITE is true, and is
                     ignored entirely on a non-interactive session (the
                     stage is skipped rather than hanging on a prompt).

  PROJECT_DIR_NAME   the absolute project directory that --subjects IDs
                     belong to. Required with --subjects; not consulted
                     otherwise.
`

const topicOverwrite = `Overwrite Policy
================

Before a stage runs, its declared output root is checked:

  output doesn't exist           -> proceed
  OVERWRITE=true                 -> delete output, proceed
  PROMPT_OVERWRITE=false         -> skip (SKIPPED_EXISTS)
  not running on a TTY           -> skip (SKIPPED_EXISTS)
  otherwise, prompt y/N          -> "y"/"yes" deletes and proceeds,
                                     anything else skips

A stage that fails, or is aborted by cancellation, has its output root
removed afterward so a retry never starts from a partially-written tree.
`
