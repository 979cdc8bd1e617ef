package overwrite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDecide_ProceedsWhenAbsent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing")
	p := Policy{}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Proceed {
		t.Fatalf("Decide = %v, want Proceed", d)
	}
}

func TestDecide_ForceOverwriteDeletes(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	p := Policy{Overwrite: true}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Proceed {
		t.Fatalf("Decide = %v, want Proceed", d)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", target)
	}
}

func TestDecide_SkipsWhenNoPromptNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}

	p := Policy{Overwrite: false, Prompt: false}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Skip {
		t.Fatalf("Decide = %v, want Skip", d)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected %s to still exist, got: %v", target, err)
	}
}

func TestDecide_SkipsWhenPromptButNotTTY(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}

	p := Policy{Prompt: true, IsTTY: false}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Skip {
		t.Fatalf("Decide = %v, want Skip", d)
	}
}

func TestDecide_PromptApprovedDeletes(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}

	p := Policy{Prompt: true, IsTTY: true, Responder: FixedResponse(true)}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Proceed {
		t.Fatalf("Decide = %v, want Proceed", d)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", target)
	}
}

func TestDecide_PromptDeniedSkips(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}

	p := Policy{Prompt: true, IsTTY: true, Responder: FixedResponse(false)}
	d, err := p.Decide(context.Background(), target)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != Skip {
		t.Fatalf("Decide = %v, want Skip", d)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected %s to still exist: %v", target, err)
	}
}
