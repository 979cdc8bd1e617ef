// Package dicom implements the post-conversion canonicalization rules of
// spec.md §6.3: after the external DICOM-to-NIfTI tool drops nii.gz/json
// pairs alongside the DICOM source, exactly one pair per scan type is
// promoted to the subject's canonical anat/ files; every other pair is
// diverted to anat/extra/ under its original basename.
package dicom

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/idossha/structural/internal/bids"
	"github.com/idossha/structural/internal/overwrite"
)

// ScanType is the two-way classification this package resolves every
// converted pair to.
type ScanType string

const (
	T1w ScanType = "T1w"
	T2w ScanType = "T2w"
)

type pair struct {
	Nii  string
	JSON string
}

var seriesDescriptionRe = regexp.MustCompile(`[Tt]([12])`)

// detectType implements the two-step hint of spec.md §6.3: the parent
// directory name first, then the JSON SeriesDescription field.
func detectType(dir, jsonPath string) (ScanType, bool) {
	switch {
	case strings.Contains(dir, string(T1w)):
		return T1w, true
	case strings.Contains(dir, string(T2w)):
		return T2w, true
	}
	desc, err := seriesDescription(jsonPath)
	if err != nil {
		return "", false
	}
	m := seriesDescriptionRe.FindStringSubmatch(desc)
	if m == nil {
		return "", false
	}
	if m[1] == "1" {
		return T1w, true
	}
	return T2w, true
}

func seriesDescription(jsonPath string) (string, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return "", err
	}
	var meta struct {
		SeriesDescription string `json:"SeriesDescription"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.SeriesDescription, nil
}

// findPairs returns every nii.gz file in dir that has a matching .json
// sidecar, in lexical filename order.
func findPairs(dir string) ([]pair, error) {
	niis, err := filepath.Glob(filepath.Join(dir, "*.nii.gz"))
	if err != nil {
		return nil, err
	}
	var pairs []pair
	for _, nii := range niis {
		base := strings.TrimSuffix(filepath.Base(nii), ".nii.gz")
		jsonPath := filepath.Join(dir, base+".json")
		if _, err := os.Stat(jsonPath); err != nil {
			continue
		}
		pairs = append(pairs, pair{Nii: nii, JSON: jsonPath})
	}
	return pairs, nil
}

// Canonicalize scans the subject's T1w/T2w DICOM directories for
// converted pairs and places each one per spec.md §6.3: the first pair of
// a scan type is promoted to the canonical anat/ file (or diverted if the
// overwrite policy declines to replace an existing canonical file); every
// subsequent pair of that type in the same run is always diverted.
func Canonicalize(ctx context.Context, ws bids.SubjectWorkspace, policy overwrite.Policy) error {
	if err := os.MkdirAll(ws.AnatExtra, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", ws.AnatExtra, err)
	}

	claimed := make(map[ScanType]bool, 2)
	sources := []struct {
		dir  string
		hint ScanType
	}{
		{ws.DicomT1, T1w},
		{ws.DicomT2, T2w},
	}

	for _, src := range sources {
		pairs, err := findPairs(src.dir)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", src.dir, err)
		}
		for _, p := range pairs {
			kind, ok := detectType(src.dir, p.JSON)
			if !ok {
				kind = src.hint
			}
			if claimed[kind] {
				if err := divert(ws, p); err != nil {
					return err
				}
				continue
			}
			claimed[kind] = true
			if err := place(ctx, ws, kind, p, policy); err != nil {
				return err
			}
		}
	}
	return nil
}

func place(ctx context.Context, ws bids.SubjectWorkspace, kind ScanType, p pair, policy overwrite.Policy) error {
	canonicalNii := filepath.Join(ws.Anat, fmt.Sprintf("%s_%s.nii.gz", ws.Subject.BIDSName(), kind))
	canonicalJSON := filepath.Join(ws.Anat, fmt.Sprintf("%s_%s.json", ws.Subject.BIDSName(), kind))

	if _, err := os.Stat(canonicalNii); os.IsNotExist(err) {
		return moveRename(p, canonicalNii, canonicalJSON)
	}

	decision, err := policy.Decide(ctx, canonicalNii)
	if err != nil {
		return fmt.Errorf("deciding overwrite for %s: %w", canonicalNii, err)
	}
	if decision == overwrite.Skip {
		return divert(ws, p)
	}
	return moveRename(p, canonicalNii, canonicalJSON)
}

func moveRename(p pair, targetNii, targetJSON string) error {
	if err := os.Rename(p.Nii, targetNii); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", p.Nii, targetNii, err)
	}
	if err := os.Rename(p.JSON, targetJSON); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", p.JSON, targetJSON, err)
	}
	return nil
}

// divert moves a pair into anat/extra/ under its original basename,
// never synthesizing a run-NN disambiguator (spec.md §6.3).
func divert(ws bids.SubjectWorkspace, p pair) error {
	targetNii := filepath.Join(ws.AnatExtra, filepath.Base(p.Nii))
	targetJSON := filepath.Join(ws.AnatExtra, filepath.Base(p.JSON))
	return moveRename(p, targetNii, targetJSON)
}
