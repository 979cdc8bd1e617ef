// Package outcome persists the run summary spec.md §6.1/§7 describes:
// one JSON document recording every subject's stage outcomes and final
// verdict, written atomically so a crash mid-write never leaves a
// truncated file behind. Grounded on the teacher's internal/state
// atomic-write-then-rename helper and its Timing accumulator.
package outcome

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/idossha/structural/internal/job"
	"github.com/idossha/structural/internal/stage"
)

// StageRecord is one stage attempt, serialized for the summary file.
type StageRecord struct {
	Stage      stage.Name    `json:"stage"`
	Status     stage.Status  `json:"status"`
	Rule       string        `json:"rule,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	LogPath    string        `json:"log_path,omitempty"`
}

// SubjectRecord is one subject's full record in the run summary.
type SubjectRecord struct {
	SubjectID string        `json:"subject_id"`
	Verdict   job.Verdict   `json:"verdict"`
	Stages    []StageRecord `json:"stages"`
}

// Summary is the top-level run summary document (spec.md §6.1's
// "machine-readable run report").
type Summary struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Subjects  []SubjectRecord `json:"subjects"`
}

// FromJob converts a job's accumulated outcomes into its SubjectRecord,
// given the stage names the run actually requested (used to compute the
// final verdict).
func FromJob(j *job.Job, requested []stage.Name) SubjectRecord {
	rec := SubjectRecord{
		SubjectID: j.Subject.ID,
		Verdict:   j.Verdict(requested),
	}
	for _, o := range j.Outcomes {
		rec.Stages = append(rec.Stages, StageRecord{
			Stage:      o.Stage,
			Status:     o.Status,
			Rule:       o.Rule,
			DurationMS: o.Duration.Milliseconds(),
			LogPath:    o.LogPath,
		})
	}
	return rec
}

// path returns the fixed location of the run summary within a project's
// derivatives/ti-toolbox/logs directory (layout.TILogs), alongside the
// per-subject preprocessing logs it summarizes.
func path(logsDir string) string {
	return filepath.Join(logsDir, "run-summary.json")
}

// Load reads a prior run summary, if one exists. A missing file is not
// an error: an empty Summary is returned.
func Load(logsDir string) (*Summary, error) {
	data, err := os.ReadFile(path(logsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Summary{}, nil
		}
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the summary atomically: the encoded document is written to
// a temporary file in the same directory, then renamed over the target,
// so a crash mid-write never corrupts the prior summary.
func Save(logsDir string, s *Summary) error {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	target := path(logsDir)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
