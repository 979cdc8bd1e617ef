package outcome

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/job"
	"github.com/idossha/structural/internal/logx"
)

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	summary := &Summary{
		RunID:     "run-1",
		StartedAt: time.Unix(1000, 0).UTC(),
		EndedAt:   time.Unix(2000, 0).UTC(),
		Subjects: []SubjectRecord{
			{SubjectID: "101", Verdict: job.VerdictSuccess},
		},
	}

	if err := Save(dir, summary); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || len(got.Subjects) != 1 {
		t.Fatalf("round-tripped summary mismatch: %+v", got)
	}
	if got.Subjects[0].Verdict != job.VerdictSuccess {
		t.Fatalf("Verdict = %v, want SUCCESS", got.Subjects[0].Verdict)
	}
}

func TestLoad_MissingFileReturnsEmptySummary(t *testing.T) {
	dir := t.TempDir()
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Subjects) != 0 {
		t.Fatalf("expected empty summary, got %+v", got)
	}
}

func TestSave_NoStaleTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Summary{RunID: "run-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no leftover .tmp files, found %v", matches)
	}
}

func TestFromJob_ReflectsOutcomesAndVerdict(t *testing.T) {
	l, err := logx.New(filepath.Join(t.TempDir(), "job.log"), "101", false)
	if err != nil {
		t.Fatalf("logx.New: %v", err)
	}
	defer l.Close()

	j := job.New(bids.SubjectRef{ID: "101"}, bids.SubjectWorkspace{}, l)
	rec := FromJob(j, job.Order)
	if rec.SubjectID != "101" {
		t.Fatalf("SubjectID = %q, want 101", rec.SubjectID)
	}
	if rec.Verdict != job.VerdictFailed {
		t.Fatalf("Verdict = %v, want FAILED for a subject with no attempted stages", rec.Verdict)
	}
}
