package stage

import "testing"

func TestClassify_SuccessMarkerOverridesNonZeroExit(t *testing.T) {
	output := "some progress...\nrecon-all -subjid sub-101 finished without error\n"
	status, rule := Classify(RECON, output, 1)
	if status != Success {
		t.Fatalf("status = %v, want Success", status)
	}
	if rule == "" {
		t.Fatal("expected a rule name")
	}
}

func TestClassify_FatalSystemMarker(t *testing.T) {
	status, _ := Classify(DICOM, "dcm2niix: Segmentation fault\n", 0)
	if status != Failed {
		t.Fatalf("status = %v, want Failed", status)
	}
}

func TestClassify_MissingInterpreterMarker(t *testing.T) {
	status, _ := Classify(CHARM, "/usr/bin/charm: bad interpreter: No such file or directory\n", 0)
	if status != Failed {
		t.Fatalf("status = %v, want Failed", status)
	}
}

func TestClassify_StageSpecificFailureMarker(t *testing.T) {
	status, _ := Classify(RECON, "recon-all -s sub-101 exited with ERRORS at some point\n", 0)
	if status != Failed {
		t.Fatalf("status = %v, want Failed", status)
	}
}

func TestClassify_FallsBackToExitCode(t *testing.T) {
	if status, _ := Classify(TISSUE, "nothing special here\n", 0); status != Success {
		t.Fatalf("status = %v, want Success", status)
	}
	if status, _ := Classify(TISSUE, "nothing special here\n", 1); status != Failed {
		t.Fatalf("status = %v, want Failed", status)
	}
}
