package bids

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectLayout is the rooted, immutable-after-materialize BIDS tree
// described by spec.md §3. It is shared read-only by every subject job
// once Materialize returns.
type ProjectLayout struct {
	Root        string // absolute project_dir
	Name        string // basename of Root
	Source      string // sourcedata/
	Freesurfer  string // derivatives/freesurfer
	SimNIBS     string // derivatives/SimNIBS
	TIToolbox   string // derivatives/ti-toolbox
	TILogs      string // derivatives/ti-toolbox/logs
	TITissue    string // derivatives/ti-toolbox/tissue_analysis
}

// SubjectWorkspace is the fixed set of per-subject directories from
// spec.md §3.
type SubjectWorkspace struct {
	Subject SubjectRef

	DicomT1     string // sourcedata/sub-<id>/T1w/dicom
	DicomT2     string // sourcedata/sub-<id>/T2w/dicom
	Anat        string // sub-<id>/anat
	AnatExtra   string // sub-<id>/anat/extra
	Freesurfer  string // derivatives/freesurfer/sub-<id>
	M2M         string // derivatives/SimNIBS/sub-<id>/m2m_<id>
	TissueRoot  string // derivatives/ti-toolbox/tissue_analysis/sub-<id>
	BoneTissue  string // .../tissue_analysis/sub-<id>/bone_analysis
	CSFTissue   string // .../tissue_analysis/sub-<id>/csf_analysis
	LogDir      string // derivatives/ti-toolbox/logs/sub-<id>
}

// ErrPathInvalid and ErrNameInvalid are the two failure modes of C1
// (spec.md §4.1).
var (
	ErrPathInvalid = fmt.Errorf("PATH_INVALID")
	ErrNameInvalid = fmt.Errorf("NAME_INVALID")
)

// NewLayout validates project_dir and derives the fixed derivative roots,
// without creating any layout directory. The writability check creates
// and removes one temporary probe file in project_dir.
func NewLayout(projectDir string) (*ProjectLayout, error) {
	if !filepath.IsAbs(projectDir) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrPathInvalid, projectDir)
	}
	info, err := os.Stat(projectDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q does not exist or is not a directory", ErrPathInvalid, projectDir)
	}
	if err := probeWritable(projectDir); err != nil {
		return nil, fmt.Errorf("%w: %q is not writable: %v", ErrPathInvalid, projectDir, err)
	}
	name := filepath.Base(projectDir)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: empty basename for %q", ErrNameInvalid, projectDir)
	}
	if strings.ContainsAny(name, " \t/\\") {
		return nil, fmt.Errorf("%w: project name %q has whitespace or separators", ErrNameInvalid, name)
	}

	derivatives := filepath.Join(projectDir, "derivatives")
	titoolbox := filepath.Join(derivatives, "ti-toolbox")
	return &ProjectLayout{
		Root:       projectDir,
		Name:       name,
		Source:     filepath.Join(projectDir, "sourcedata"),
		Freesurfer: filepath.Join(derivatives, "freesurfer"),
		SimNIBS:    filepath.Join(derivatives, "SimNIBS"),
		TIToolbox:  titoolbox,
		TILogs:     filepath.Join(titoolbox, "logs"),
		TITissue:   filepath.Join(titoolbox, "tissue_analysis"),
	}, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".structural-write-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Workspace computes the fixed per-subject directory set (spec.md §3),
// without creating anything.
func (l *ProjectLayout) Workspace(s SubjectRef) SubjectWorkspace {
	bidsName := s.BIDSName()
	anat := filepath.Join(l.Root, bidsName, "anat")
	tissueRoot := filepath.Join(l.TITissue, bidsName)
	return SubjectWorkspace{
		Subject:    s,
		DicomT1:    filepath.Join(l.Source, bidsName, "T1w", "dicom"),
		DicomT2:    filepath.Join(l.Source, bidsName, "T2w", "dicom"),
		Anat:       anat,
		AnatExtra:  filepath.Join(anat, "extra"),
		Freesurfer: filepath.Join(l.Freesurfer, bidsName),
		M2M:        filepath.Join(l.SimNIBS, bidsName, "m2m_"+s.ID),
		TissueRoot: tissueRoot,
		BoneTissue: filepath.Join(tissueRoot, "bone_analysis"),
		CSFTissue:  filepath.Join(tissueRoot, "csf_analysis"),
		LogDir:     filepath.Join(l.TILogs, bidsName),
	}
}

// dirs returns every directory Materialize must create for this workspace.
// It deliberately excludes each stage's own output root (Freesurfer, M2M,
// BoneTissue/CSFTissue under TissueRoot): those are left for the external
// tool to create on success, so the overwrite policy's existence gate can
// tell a fresh run from a completed one. Only input directories, the
// immediate parent a stage's WorkDir needs to exist, and the log directory
// are pre-created.
func (w SubjectWorkspace) dirs() []string {
	return []string{
		w.DicomT1, w.DicomT2, w.Anat,
		filepath.Dir(w.M2M), w.LogDir,
	}
}
