package dicom

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/overwrite"
)

func writePair(t *testing.T, dir, base, seriesDescription string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	niiPath := filepath.Join(dir, base+".nii.gz")
	if err := os.WriteFile(niiPath, []byte("fake-nifti"), 0644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, base+".json")
	content := `{"SeriesDescription": "` + seriesDescription + `"}`
	if err := os.WriteFile(jsonPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newWorkspace(t *testing.T, root string) bids.SubjectWorkspace {
	t.Helper()
	subject := bids.SubjectRef{ID: "101"}
	return bids.SubjectWorkspace{
		Subject:   subject,
		DicomT1:   filepath.Join(root, "sourcedata", "sub-101", "T1w", "dicom"),
		DicomT2:   filepath.Join(root, "sourcedata", "sub-101", "T2w", "dicom"),
		Anat:      filepath.Join(root, "sub-101", "anat"),
		AnatExtra: filepath.Join(root, "sub-101", "anat", "extra"),
	}
}

func TestCanonicalize_FirstPairPromoted(t *testing.T) {
	root := t.TempDir()
	ws := newWorkspace(t, root)
	if err := os.MkdirAll(ws.Anat, 0755); err != nil {
		t.Fatal(err)
	}
	writePair(t, ws.DicomT1, "series001_t1_mprage", "t1_mprage")

	if err := Canonicalize(context.Background(), ws, overwrite.Policy{}); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	canonical := filepath.Join(ws.Anat, "sub-101_T1w.nii.gz")
	if _, err := os.Stat(canonical); err != nil {
		t.Fatalf("expected canonical T1w file: %v", err)
	}
}

func TestCanonicalize_SecondPairOfSameTypeDiverted(t *testing.T) {
	root := t.TempDir()
	ws := newWorkspace(t, root)
	if err := os.MkdirAll(ws.Anat, 0755); err != nil {
		t.Fatal(err)
	}
	writePair(t, ws.DicomT1, "series001_t1_mprage", "t1_mprage")
	writePair(t, ws.DicomT1, "series002_t1_mprage_repeat", "t1_mprage_repeat")

	if err := Canonicalize(context.Background(), ws, overwrite.Policy{}); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	diverted := filepath.Join(ws.AnatExtra, "series002_t1_mprage_repeat.nii.gz")
	if _, err := os.Stat(diverted); err != nil {
		t.Fatalf("expected second series diverted to extra/: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(ws.Anat, "sub-101_T1w.nii.gz"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one canonical T1w file, got %v", matches)
	}
}

func TestCanonicalize_ExistingCanonicalDivertsWithoutOverwrite(t *testing.T) {
	root := t.TempDir()
	ws := newWorkspace(t, root)
	if err := os.MkdirAll(ws.Anat, 0755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(ws.Anat, "sub-101_T1w.nii.gz")
	if err := os.WriteFile(existing, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	writePair(t, ws.DicomT1, "series001_t1_mprage", "t1_mprage")

	policy := overwrite.Policy{Overwrite: false, Prompt: false}
	if err := Canonicalize(context.Background(), ws, policy); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old" {
		t.Fatal("expected existing canonical file to remain untouched")
	}
	diverted := filepath.Join(ws.AnatExtra, "series001_t1_mprage.nii.gz")
	if _, err := os.Stat(diverted); err != nil {
		t.Fatalf("expected new series diverted to extra/: %v", err)
	}
}

func TestCanonicalize_SeriesDescriptionFallbackWhenDirNameAmbiguous(t *testing.T) {
	root := t.TempDir()
	ws := newWorkspace(t, root)
	ambiguousDir := filepath.Join(root, "sourcedata", "sub-101", "incoming")
	ws.DicomT1 = ambiguousDir
	if err := os.MkdirAll(ws.Anat, 0755); err != nil {
		t.Fatal(err)
	}
	writePair(t, ambiguousDir, "series001", "t1_mprage sagittal")

	if err := Canonicalize(context.Background(), ws, overwrite.Policy{}); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	canonical := filepath.Join(ws.Anat, "sub-101_T1w.nii.gz")
	if _, err := os.Stat(canonical); err != nil {
		t.Fatalf("expected SeriesDescription fallback to promote T1w: %v", err)
	}
}
