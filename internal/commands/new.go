// Package commands implements labforge CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/NielsdaWheelz/labforge/internal/config"
	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/envconfig"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/exec"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/lock"
	"github.com/NielsdaWheelz/labforge/internal/logging"
	"github.com/NielsdaWheelz/labforge/internal/render"
	"github.com/NielsdaWheelz/labforge/internal/rewrite"
	"github.com/NielsdaWheelz/labforge/internal/scaffold"
)

// NewOpts holds options for the new command.
type NewOpts struct {
	Number     string
	Base       string
	Root       string
	ConfigFile string
	DryRun     bool
	JSON       bool
}

// New implements the `labforge new` command.
// Clones the base lab into lab<N>, rewrites its identifiers, extends the
// shared artifacts and writes fresh development configs.
func New(ctx context.Context, cr exec.CommandRunner, fsys fs.FS, opts NewOpts, stdout, stderr io.Writer) error {
	cfg, err := config.LoadAndValidate(fsys, opts.Root, opts.ConfigFile)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if cfg.UserSource != "" {
		logger.Debug("config_loaded", "path", cfg.UserSource)
	}
	if cfg.Source != "" {
		logger.Debug("config_loaded", "path", cfg.Source)
	}

	gen := &scaffold.Generator{
		FS:       fsys,
		Mint:     credentials.NewMint(KeyGenerator(cfg.Keygen, cr)),
		Rewriter: &rewrite.Rewriter{FS: fsys},
		Emitter:  &envconfig.Emitter{FS: fsys},
		Locker:   lock.NewScaffoldLock(cfg.Root),
		Logger:   logger,
		Config:   cfg,
	}

	res, err := gen.Generate(ctx, scaffold.Request{
		Number: opts.Number,
		Base:   opts.Base,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		if err := render.WriteNewJSON(stdout, res); err != nil {
			return errors.Wrap(errors.EInternal, "failed to write json output", err)
		}
		return nil
	}
	writeNewOutput(stdout, res)
	return nil
}

// KeyGenerator returns the key backend selected by the keygen config.
func KeyGenerator(k config.Keygen, cr exec.CommandRunner) credentials.KeyGenerator {
	if k.Backend == config.BackendOpenSSL {
		return credentials.CommandKeyGenerator{
			Runner:  cr,
			Command: k.Command,
			Bits:    k.Bits,
			Timeout: k.Timeout,
		}
	}
	return credentials.NativeKeyGenerator{Bits: k.Bits}
}

// writeNewOutput writes the stable key: value result of a new run.
func writeNewOutput(w io.Writer, r scaffold.Result) {
	fmt.Fprintf(w, "lab: %s\n", core.LabDirName(r.Tag))
	fmt.Fprintf(w, "base: %s\n", core.LabDirName(r.Base))
	fmt.Fprintf(w, "lab_dir: %s\n", r.LabDir)
	fmt.Fprintf(w, "client_id: %s\n", r.ClientID)
	fmt.Fprintf(w, "dry_run: %t\n", r.DryRun)

	if !r.DryRun {
		fmt.Fprintf(w, "files_rewritten: %d\n", len(r.Rewrite.FilesRewritten))
		fmt.Fprintf(w, "paths_renamed: %d\n", len(r.Rewrite.PathsRenamed))
	}

	for _, a := range r.Artifacts {
		fmt.Fprintf(w, "artifact_%s: %s (+%d bytes)\n", a.Name, a.Path, a.BytesAdded)
	}

	configs := "none"
	if len(r.Configs) > 0 {
		configs = strings.Join(r.Configs, ", ")
	}
	fmt.Fprintf(w, "configs: %s\n", configs)
}
