// Package atlas implements C9, the atlas/config gate: before a subject is
// admitted to a stage that consumes an atlas or template file, verify
// that file actually exists on disk.
//
// Grounded on the teacher's internal/contextgather "probe a fixed list of
// well-known paths and report what's there" shape, repurposed from
// gathering AI-prompt context to validating pipeline prerequisites.
package atlas

import (
	"os"

	"github.com/idossha/structural/internal/config"
	"github.com/idossha/structural/internal/stage"
)

// Gate validates per-stage atlas/config requirements declared in the
// project's ProjectConfig.
type Gate struct {
	byStage map[stage.Name][]string
}

// NewGate indexes the project's declared requirements by stage.
func NewGate(reqs []config.StageRequirement) *Gate {
	g := &Gate{byStage: make(map[stage.Name][]string)}
	for _, r := range reqs {
		name := stage.Name(r.Stage)
		g.byStage[name] = append(g.byStage[name], r.Path)
	}
	return g
}

// Check reports whether every atlas/config path declared for the given
// stage exists. On the first missing path it returns false and that
// path, so the caller can mark the stage SKIPPED_PRECONDITION naming the
// specific file (spec.md §4.9).
func (g *Gate) Check(name stage.Name) (ok bool, missingPath string) {
	if g == nil {
		return true, ""
	}
	for _, path := range g.byStage[name] {
		if _, err := os.Stat(path); err != nil {
			return false, path
		}
	}
	return true, ""
}
