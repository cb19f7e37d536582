package envconfig

import (
	"path/filepath"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
)

// FileName is the runtime config file inside each role directory.
const FileName = "config.yaml"

// Emitter writes rendered config documents into a lab tree.
type Emitter struct {
	FS fs.FS
}

// Path returns the config file path for role inside labDir.
func Path(labDir string, role core.Role) string {
	return filepath.Join(labDir, string(role), FileName)
}

// Write renders and writes both role configs, replacing whatever the clone
// carried over from its base. Each file is written atomically. It returns the
// written paths in role order.
func (e *Emitter) Write(labDir string, creds *credentials.Set, opts Options) ([]string, error) {
	var written []string
	for _, role := range core.Roles() {
		path := Path(labDir, role)
		data, err := Encode(Document(role, creds, opts))
		if err != nil {
			return written, errors.WrapWithDetails(errors.EInternal, "failed to encode config", err,
				map[string]string{"role": string(role)})
		}
		mode, err := fs.FileMode(e.FS, path, 0644)
		if err != nil {
			return written, errors.WrapWithDetails(errors.EConfigWriteFailed, "failed to stat config", err,
				map[string]string{"path": path})
		}
		if err := fs.WriteFileAtomic(e.FS, path, data, mode); err != nil {
			return written, errors.WrapWithDetails(errors.EConfigWriteFailed, "failed to write config", err,
				map[string]string{"path": path})
		}
		written = append(written, path)
	}
	return written, nil
}
