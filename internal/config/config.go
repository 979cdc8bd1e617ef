// Package config parses the orchestrator's invocation surface (spec.md §6.1),
// its environment knobs (§6.2), and the per-project YAML naming the
// atlas/config templates that gate subject admission (§4.9).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags is the parsed invocation surface (spec.md §6.1), threaded explicitly
// through the scheduler and job layers instead of read as ad-hoc globals
// (the re-architecture note of spec.md §9).
type Flags struct {
	EnableDicom  bool
	EnableCharm  bool
	EnableRecon  bool
	EnableTissue bool
	ReconOnly    bool
	Parallel     bool
	Cores        int // 0 means "unset": use detected core count
}

// Stages returns the ordered list of stage names this invocation enables,
// honoring --recon-only's override (spec.md §6.1: "enable RECON only;
// suppress DICOM/CHARM/TISSUE").
func (f Flags) Stages() []string {
	if f.ReconOnly {
		return []string{"RECON"}
	}
	var stages []string
	if f.EnableDicom {
		stages = append(stages, "DICOM")
	}
	if f.EnableCharm {
		stages = append(stages, "CHARM")
	}
	if f.EnableRecon {
		stages = append(stages, "RECON")
	}
	if f.EnableTissue {
		stages = append(stages, "TISSUE")
	}
	return stages
}

// Env is the set of recognized environment variables and their resolved
// effects (spec.md §6.2).
type Env struct {
	Debug           bool
	Overwrite       bool
	PromptOverwrite bool
	ProjectDirName  string
}

// LoadEnv reads the recognized environment variables from the process
// environment.
func LoadEnv() Env {
	return Env{
		Debug:           boolEnv("DEBUG", false),
		Overwrite:       boolEnv("OVERWRITE", false),
		PromptOverwrite: boolEnv("PROMPT_OVERWRITE", true),
		ProjectDirName:  os.Getenv("PROJECT_DIR_NAME"),
	}
}

// boolEnv parses {"true","1"} as true and {"false","0"} as false; an unset
// variable or any other value yields the given default.
func boolEnv(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return def
	}
}

// StageRequirement names an atlas or config template a stage depends on.
type StageRequirement struct {
	Stage string `yaml:"stage"`
	Path  string `yaml:"path"`
}

// ProjectConfig is the optional `.structural/config.yaml`, naming the
// atlas/config templates C9 must validate before admitting a subject
// whose pipeline uses them, plus per-stage timeouts in minutes.
type ProjectConfig struct {
	Atlases         []StageRequirement `yaml:"atlases"`
	StageTimeoutMin map[string]int     `yaml:"stage-timeout-minutes"`
}

// LoadProjectConfig reads and validates the project config. A missing file
// is not an error: an empty ProjectConfig is returned, since atlas gating
// is optional (spec.md §4.9 only applies "whose pipeline includes a stage
// that consumes an atlas or config file").
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{}, nil
		}
		return nil, fmt.Errorf("reading project config %s: %w", path, err)
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing project config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *ProjectConfig) error {
	seen := make(map[string]bool)
	for _, r := range cfg.Atlases {
		if r.Stage == "" {
			return fmt.Errorf("atlases: entry missing 'stage'")
		}
		if r.Path == "" {
			return fmt.Errorf("atlases: stage %q missing 'path'", r.Stage)
		}
		key := r.Stage + "\x00" + r.Path
		if seen[key] {
			return fmt.Errorf("atlases: duplicate entry for stage %q path %q", r.Stage, r.Path)
		}
		seen[key] = true
	}
	for stage, mins := range cfg.StageTimeoutMin {
		if mins < 0 {
			return fmt.Errorf("stage-timeout-minutes: %q must be >= 0", stage)
		}
	}
	return nil
}

// ParseCores parses the --cores flag value, returning 0 (unset) for an empty
// value or "0"; a negative value is an error.
func ParseCores(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("--cores: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("--cores must be >= 0")
	}
	return n, nil
}
