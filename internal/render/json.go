// Package render provides JSON output formatting for labforge commands.
package render

import (
	"encoding/json"
	"io"

	"github.com/NielsdaWheelz/labforge/internal/configcheck"
	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/scaffold"
)

// SchemaVersion is the version of every JSON envelope.
const SchemaVersion = "1.0"

// ============================================================================
// New command JSON types
// ============================================================================

// NewResult is the public contract for new --json output.
type NewResult struct {
	// Lab is the created (or, on dry run, planned) lab directory name.
	Lab string `json:"lab"`

	// Base is the lab directory the instance was cloned from.
	Base string `json:"base"`

	// LabDir is the absolute path of the new lab.
	LabDir string `json:"lab_dir"`

	// ClientID is the OAuth client id shared by the dev and prod configs.
	ClientID string `json:"client_id"`

	DryRun bool `json:"dry_run"`

	// Rewrite is null on dry run.
	Rewrite *RewriteJSON `json:"rewrite"`

	Artifacts []ArtifactJSON `json:"artifacts"`

	// Configs are the development config files written (or planned).
	Configs []string `json:"configs"`
}

// RewriteJSON summarizes the identifier rewrite of the cloned tree.
type RewriteJSON struct {
	FilesScanned   int      `json:"files_scanned"`
	FilesRewritten []string `json:"files_rewritten"`
	PathsRenamed   []string `json:"paths_renamed"`
}

// ArtifactJSON is one shared artifact extended by the run.
type ArtifactJSON struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	BytesAdded int    `json:"bytes_added"`
}

// NewResultFrom converts a scaffold result into its JSON contract.
func NewResultFrom(r scaffold.Result) NewResult {
	out := NewResult{
		Lab:       core.LabDirName(r.Tag),
		Base:      core.LabDirName(r.Base),
		LabDir:    r.LabDir,
		ClientID:  r.ClientID,
		DryRun:    r.DryRun,
		Artifacts: []ArtifactJSON{},
		Configs:   r.Configs,
	}
	if out.Configs == nil {
		out.Configs = []string{}
	}
	if !r.DryRun {
		rw := &RewriteJSON{
			FilesScanned:   r.Rewrite.FilesScanned,
			FilesRewritten: r.Rewrite.FilesRewritten,
			PathsRenamed:   []string{},
		}
		if rw.FilesRewritten == nil {
			rw.FilesRewritten = []string{}
		}
		for _, p := range r.Rewrite.PathsRenamed {
			rw.PathsRenamed = append(rw.PathsRenamed, p.From+" -> "+p.To)
		}
		out.Rewrite = rw
	}
	for _, a := range r.Artifacts {
		out.Artifacts = append(out.Artifacts, ArtifactJSON{Name: a.Name, Path: a.Path, BytesAdded: a.BytesAdded})
	}
	return out
}

// NewJSONEnvelope is the stable JSON output format for new --json.
type NewJSONEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	Data          NewResult `json:"data"`
}

// WriteNewJSON writes the new output as JSON to the given writer.
func WriteNewJSON(w io.Writer, r scaffold.Result) error {
	return encode(w, NewJSONEnvelope{SchemaVersion: SchemaVersion, Data: NewResultFrom(r)})
}

// ============================================================================
// Check command JSON types
// ============================================================================

// CheckResult is the public contract for check --json output.
type CheckResult struct {
	Root       string        `json:"root"`
	Components []string      `json:"components"`
	Skipped    []string      `json:"skipped"`
	Findings   []FindingJSON `json:"findings"`
}

// FindingJSON is a config key read without a registered default.
type FindingJSON struct {
	File string `json:"file"`
	Key  string `json:"key"`
}

// CheckJSONEnvelope is the stable JSON output format for check --json.
type CheckJSONEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	Data          CheckResult `json:"data"`
}

// WriteCheckJSON writes the check output as JSON to the given writer.
func WriteCheckJSON(w io.Writer, root string, r configcheck.Report) error {
	data := CheckResult{
		Root:       root,
		Components: nonNil(r.Components),
		Skipped:    nonNil(r.Skipped),
		Findings:   []FindingJSON{},
	}
	for _, f := range r.Findings {
		data.Findings = append(data.Findings, FindingJSON{File: f.File, Key: f.Key})
	}
	return encode(w, CheckJSONEnvelope{SchemaVersion: SchemaVersion, Data: data})
}

// nonNil keeps empty lists as [] rather than null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
