package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/NielsdaWheelz/labforge/internal/config"
	"github.com/NielsdaWheelz/labforge/internal/configcheck"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/render"
)

// CheckOpts holds options for the check command.
type CheckOpts struct {
	Root       string
	ConfigFile string
	JSON       bool
}

// Check implements the `labforge check` command.
// Reports every cfg.Get* key that has no cfg.SetDefault registration in the
// component's config package. Findings are printed before E_CHECK_FAILED.
func Check(fsys fs.FS, opts CheckOpts, stdout io.Writer) error {
	cfg, err := config.Load(fsys, opts.Root, opts.ConfigFile)
	if err != nil {
		return err
	}

	report, err := configcheck.Checker{FS: os.DirFS(cfg.Root)}.Check()
	if err != nil {
		return err
	}

	if opts.JSON {
		if err := render.WriteCheckJSON(stdout, cfg.Root, report); err != nil {
			return errors.Wrap(errors.EInternal, "failed to write json output", err)
		}
	} else {
		writeCheckOutput(stdout, cfg.Root, report)
	}

	if !report.OK() {
		return errors.NewWithDetails(errors.ECheckFailed,
			fmt.Sprintf("%d config key(s) read without a registered default", len(report.Findings)),
			map[string]string{"root": cfg.Root})
	}
	return nil
}

func writeCheckOutput(w io.Writer, root string, r configcheck.Report) {
	fmt.Fprintf(w, "root: %s\n", root)
	fmt.Fprintf(w, "components_checked: %d\n", len(r.Components))
	for _, dir := range r.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", dir)
	}
	for _, f := range r.Findings {
		fmt.Fprintf(w, "missing_default: %s: %s\n", f.File, f.Key)
	}
	fmt.Fprintf(w, "findings: %d\n", len(r.Findings))
}
