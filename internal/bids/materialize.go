package bids

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed templates/*.json templates/README.tmpl
var templates embed.FS

// datasetDescriptionName is the fixed filename C1 seeds under every
// derivative root and the project root (spec.md §4.1, §6.3).
const datasetDescriptionName = "dataset_description.json"

// derivativeTemplate maps a derivative root's identity to its seed template,
// as named in spec.md §4.1 step 2.
var derivativeTemplate = map[string]string{
	"freesurfer": "templates/dataset_description.freesurfer.json",
	"SimNIBS":    "templates/dataset_description.simnibs.json",
	"ti-toolbox": "templates/dataset_description.titoolbox.json",
}

// Materialize creates the BIDS directory skeleton for every given subject
// and seeds the dataset-description metadata, per spec.md §4.1. It is
// idempotent: directories are created with MkdirAll (ignoring
// already-exists) and seeded files are never overwritten once present.
func Materialize(l *ProjectLayout, subjects []SubjectRef) error {
	if strings.ContainsAny(l.Root, "\r\n") {
		return fmt.Errorf("%w: project path contains a line-terminator character", ErrPathInvalid)
	}

	if err := os.MkdirAll(l.TILogs, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", l.TILogs, err)
	}
	if err := os.MkdirAll(l.TITissue, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", l.TITissue, err)
	}

	for _, s := range subjects {
		ws := l.Workspace(s)
		for _, d := range ws.dirs() {
			if strings.ContainsAny(d, "\r\n") {
				return fmt.Errorf("%w: subject %s path contains a line-terminator character", ErrPathInvalid, s.ID)
			}
			if err := os.MkdirAll(d, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", d, err)
			}
		}
	}

	for root, tmplPath := range derivativeTemplate {
		dir := map[string]string{
			"freesurfer": l.Freesurfer,
			"SimNIBS":    l.SimNIBS,
			"ti-toolbox": l.TIToolbox,
		}[root]
		if err := seedDerivativeDescription(dir, root, l.Name, tmplPath); err != nil {
			return err
		}
	}

	if err := seedRootDescription(l); err != nil {
		return err
	}
	if err := seedReadme(l); err != nil {
		return err
	}

	return nil
}

// seedDerivativeDescription writes dataset_description.json under a
// derivative root if absent, substituting the URI and DatasetLinks
// placeholders (spec.md §4.1 step 2).
func seedDerivativeDescription(derivativeRoot, rootName, projectName, templatePath string) error {
	target := filepath.Join(derivativeRoot, datasetDescriptionName)
	if _, err := os.Stat(target); err == nil {
		return nil // never overwritten
	}

	raw, err := templates.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", templatePath, err)
	}
	content := string(raw)

	uri := fmt.Sprintf("bids:%s@%s", projectName, time.Now().UTC().Format("2006-01-02"))
	links := fmt.Sprintf(`{
    "%s": ".."
  }`, projectName)

	const uriPlaceholder = `"URI": ""`
	const linksPlaceholder = `"DatasetLinks": {}`
	if !strings.Contains(content, uriPlaceholder) || !strings.Contains(content, linksPlaceholder) {
		return fmt.Errorf("template %s lacks the expected URI/DatasetLinks placeholders", templatePath)
	}
	content = strings.Replace(content, uriPlaceholder, fmt.Sprintf(`"URI": %q`, uri), 1)
	content = strings.Replace(content, linksPlaceholder, `"DatasetLinks": `+links, 1)

	if err := os.MkdirAll(derivativeRoot, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", derivativeRoot, err)
	}
	return os.WriteFile(target, []byte(content), 0644)
}

// seedRootDescription writes the top-level dataset_description.json if
// absent, filling in the Name field (spec.md §4.1 step 3).
func seedRootDescription(l *ProjectLayout) error {
	target := filepath.Join(l.Root, datasetDescriptionName)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	raw, err := templates.ReadFile("templates/dataset_description.root.json")
	if err != nil {
		return fmt.Errorf("reading root template: %w", err)
	}
	content := string(raw)

	const namePlaceholder = `"Name": ""`
	if !strings.Contains(content, namePlaceholder) {
		return fmt.Errorf("root template lacks the expected Name placeholder")
	}
	content = strings.Replace(content, namePlaceholder, fmt.Sprintf(`"Name": %q`, l.Name), 1)

	return os.WriteFile(target, []byte(content), 0644)
}

// seedReadme writes the top-level README if absent (spec.md §4.1 step 3).
func seedReadme(l *ProjectLayout) error {
	target := filepath.Join(l.Root, "README")
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	raw, err := templates.ReadFile("templates/README.tmpl")
	if err != nil {
		return fmt.Errorf("reading README template: %w", err)
	}
	return os.WriteFile(target, raw, 0644)
}
