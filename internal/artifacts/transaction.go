package artifacts

import (
	"bytes"
	stderrors "errors"
	"os"

	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
)

// Staged is one rendered artifact waiting for Commit.
type Staged struct {
	Artifact Artifact
	Original []byte
	Output   []byte
	Mode     os.FileMode
}

// Transaction renders every artifact in memory before any of them is written.
// Stage may be called repeatedly; Commit writes all staged outputs or none.
type Transaction struct {
	FS     fs.FS
	staged []*Staged
	done   bool
}

// NewTransaction returns an empty transaction over fsys.
func NewTransaction(fsys fs.FS) *Transaction {
	return &Transaction{FS: fsys}
}

// Stage reads the artifact's file and renders its new content. The file is
// not modified. Two artifacts may not share a path.
func (t *Transaction) Stage(a Artifact) (*Staged, error) {
	if t.done {
		return nil, errors.New(errors.EInternal, "transaction already committed")
	}
	for _, s := range t.staged {
		if s.Artifact.Path() == a.Path() {
			return nil, errors.NewWithDetails(errors.EInternal, "artifact path staged twice",
				map[string]string{"path": a.Path(), "artifact": a.Name()})
		}
	}

	details := map[string]string{"path": a.Path(), "artifact": a.Name()}
	current, err := t.FS.ReadFile(a.Path())
	if err != nil {
		return nil, errors.WrapWithDetails(errors.EArtifactReadFailed, "failed to read artifact", err, details)
	}
	mode, err := fs.FileMode(t.FS, a.Path(), 0644)
	if err != nil {
		return nil, errors.WrapWithDetails(errors.EArtifactReadFailed, "failed to stat artifact", err, details)
	}
	out, err := a.Render(current)
	if err != nil {
		return nil, err
	}

	s := &Staged{Artifact: a, Original: current, Output: out, Mode: mode}
	t.staged = append(t.staged, s)
	return s, nil
}

// Staged returns the staged artifacts in stage order.
func (t *Transaction) Staged() []*Staged {
	return t.staged
}

// Commit publishes every staged output.
//
// Files are first checked against what Stage read, then each output is
// written to a temp file beside its target, and only then are the temp files
// renamed into place. If a rename fails, targets already renamed are restored
// from the staged originals and E_ARTIFACT_COMMIT_FAILED is returned.
func (t *Transaction) Commit() error {
	if t.done {
		return errors.New(errors.EInternal, "transaction already committed")
	}
	t.done = true

	for _, s := range t.staged {
		now, err := t.FS.ReadFile(s.Artifact.Path())
		if err != nil {
			return errors.WrapWithDetails(errors.EArtifactReadFailed, "failed to re-read artifact", err,
				map[string]string{"path": s.Artifact.Path()})
		}
		if !bytes.Equal(now, s.Original) {
			return errors.NewWithDetails(errors.EArtifactConflict, "artifact changed after it was staged",
				map[string]string{"path": s.Artifact.Path()})
		}
	}

	temps := make([]string, 0, len(t.staged))
	cleanup := func(paths []string) {
		for _, p := range paths {
			_ = t.FS.Remove(p)
		}
	}
	for _, s := range t.staged {
		tmp, err := fs.WriteTemp(t.FS, s.Artifact.Path(), s.Output, s.Mode)
		if err != nil {
			cleanup(temps)
			return errors.WrapWithDetails(errors.EArtifactCommitFailed, "failed to write artifact", err,
				map[string]string{"path": s.Artifact.Path()})
		}
		temps = append(temps, tmp)
	}

	for i, s := range t.staged {
		if err := t.FS.Rename(temps[i], s.Artifact.Path()); err != nil {
			cleanup(temps[i:])
			restoreErr := t.restore(t.staged[:i])
			details := map[string]string{"path": s.Artifact.Path()}
			if restoreErr != nil {
				details["restore_error"] = restoreErr.Error()
			}
			return errors.WrapWithDetails(errors.EArtifactCommitFailed, "failed to publish artifact", err, details)
		}
	}
	return nil
}

// restore rewrites each committed artifact with its staged original.
func (t *Transaction) restore(committed []*Staged) error {
	var errs []error
	for _, s := range committed {
		if err := fs.WriteFileAtomic(t.FS, s.Artifact.Path(), s.Original, s.Mode); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
