// Package console renders the operator-facing progress stream: stage
// headers, completions, failures, and the final run summary.
package console

import (
	"fmt"
	"strings"
	"time"
)

// ANSI color helpers, as used throughout the pipeline's console output.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// tag formats a subject prefix for interleaved parallel output, e.g. "[101]".
// Empty when subjectID is empty.
func tag(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	return fmt.Sprintf("%s[%s]%s ", Cyan, subjectID, Reset)
}

// StageHeader prints a timestamped stage-start banner.
func StageHeader(subjectID, stageName string, index, total int) {
	fmt.Printf("%s[%s]%s %s%s▶ stage %d/%d: %s%s\n",
		Dim, timestamp(), Reset, tag(subjectID), Bold, index+1, total, stageName, Reset)
}

// StageComplete prints a stage-completion line with its outcome and duration.
func StageComplete(subjectID, stageName, outcome string, d time.Duration) {
	color := Green
	symbol := "✓"
	switch outcome {
	case "FAILED", "ABORTED":
		color, symbol = Red, "✗"
	case "SKIPPED_EXISTS", "SKIPPED_PRECONDITION":
		color, symbol = Yellow, "–"
	}
	fmt.Printf("%s[%s]%s %s%s%s %s %s (%s) in %s%s\n",
		Dim, timestamp(), Reset, tag(subjectID), color, symbol, stageName, outcome, formatDuration(d), color, Reset)
}

// Detail writes one line of child-process output in detail mode.
func Detail(subjectID, line string) {
	fmt.Printf("%s%s%s\n", tag(subjectID), Dim, Reset+line)
}

// Summary prints the final processed/succeeded/failed report required by spec.md §6.1.
func Summary(processed, succeeded int, failed []FailedSubject) {
	fmt.Printf("\n%s%s══ run complete: %d processed, %d succeeded, %d failed ══%s\n",
		Bold, pickColor(len(failed)), processed, succeeded, len(failed), Reset)
	if len(failed) == 0 {
		fmt.Println()
		return
	}
	fmt.Printf("\n%sfailed subjects:%s\n", Red, Reset)
	for _, f := range failed {
		fmt.Printf("  %s%-12s%s log: %s\n", Red, f.SubjectID, Reset, f.LogPath)
	}
	fmt.Println()
}

// FailedSubject names a subject whose aggregate outcome was FAILED/ABORTED.
type FailedSubject struct {
	SubjectID string
	LogPath   string
}

func pickColor(failedCount int) string {
	if failedCount == 0 {
		return Green
	}
	return Red
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m == 0 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// Prompt renders a yes/no overwrite prompt for the given target path.
func Prompt(target string) string {
	return fmt.Sprintf("  %s%s%s already exists — overwrite? [y/N]: ", Yellow, target, Reset)
}

// TrimForDisplay truncates a log line for inline tool-use-style summaries.
func TrimForDisplay(s string, max int) string {
	s = strings.TrimRight(s, "\r\n")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
