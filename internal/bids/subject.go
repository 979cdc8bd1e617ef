package bids

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SubjectRef is the identity of one subject (spec.md §3's SubjectRef).
// Two SubjectRefs with the same ID are the same subject; equality is a
// plain string comparison on ID.
type SubjectRef struct {
	ID string
}

// ParseSubjectRef resolves any of the three accepted input forms
// (spec.md §8's round-trip law): a bare ID, "sub-<id>", or a path ending
// in "sub-<id>". The BIDS form is always recoverable as "sub-<id>".
func ParseSubjectRef(input string) (SubjectRef, error) {
	base := filepath.Base(strings.TrimRight(input, "/"))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return SubjectRef{}, fmt.Errorf("cannot resolve a subject ID from %q", input)
	}
	id := strings.TrimPrefix(base, "sub-")
	if id == "" {
		return SubjectRef{}, fmt.Errorf("empty subject ID in %q", input)
	}
	if strings.ContainsAny(id, "\r\n") {
		return SubjectRef{}, fmt.Errorf("subject ID %q contains a line-terminator character", id)
	}
	return SubjectRef{ID: id}, nil
}

// BIDSName returns the "sub-<id>" form.
func (s SubjectRef) BIDSName() string {
	return "sub-" + s.ID
}

// Dedup removes duplicate subjects by ID, preserving first-seen order, and
// reports whether any duplicates were found (spec.md §3: "uniqueness is
// enforced before scheduling").
func Dedup(refs []SubjectRef) (unique []SubjectRef, duplicates []string) {
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if seen[r.ID] {
			duplicates = append(duplicates, r.ID)
			continue
		}
		seen[r.ID] = true
		unique = append(unique, r)
	}
	return unique, duplicates
}
