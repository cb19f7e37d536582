// Package scaffold creates a new lab instance from an existing one.
package scaffold

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/NielsdaWheelz/labforge/internal/artifacts"
	"github.com/NielsdaWheelz/labforge/internal/config"
	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/envconfig"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/lock"
	"github.com/NielsdaWheelz/labforge/internal/rewrite"
)

// Locker serializes runs against one lab root.
type Locker interface {
	Lock(cmd string) (unlock func() error, err error)
}

// Request describes one scaffolding run.
type Request struct {
	Number string // target instance number, "7" or "07"
	Base   string // base lab directory name; empty means Config.Base
	DryRun bool   // stage everything, write nothing
}

// ArtifactChange is one shared artifact touched (or, on dry run, to be touched).
type ArtifactChange struct {
	Name       string
	Path       string
	BytesAdded int
}

// Result reports what a run did.
type Result struct {
	Tag       core.Tag
	Base      core.Tag
	LabDir    string
	ClientID  string
	DryRun    bool
	Rewrite   rewrite.Report
	Artifacts []ArtifactChange
	Configs   []string
}

// Generator drives a scaffolding run. All fields are required.
type Generator struct {
	FS       fs.FS
	Mint     *credentials.Mint
	Rewriter *rewrite.Rewriter
	Emitter  *envconfig.Emitter
	Locker   Locker
	Logger   *slog.Logger
	Config   config.Config
}

// Generate creates lab<N> from the base lab and extends the shared artifacts.
//
// Every check and every render happens before the first write: a run that
// fails validation, credential minting or artifact staging leaves the root
// untouched. Once the clone exists there is no rollback; a later failure
// reports the partial lab directory in the error details.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	var res Result

	tag, err := core.ParseTag(core.TrimLabPrefix(req.Number))
	if err != nil {
		return res, errors.Wrap(errors.EInvalidTag, "invalid lab number", err)
	}
	res.Tag = tag
	res.DryRun = req.DryRun
	res.LabDir = filepath.Join(g.Config.Root, core.LabDirName(tag))
	log := g.Logger.With("tag", string(tag))

	unlock, err := g.Locker.Lock(lockCmd(req, tag))
	if err != nil {
		var locked *lock.ErrLocked
		if stderrors.As(err, &locked) {
			return res, errors.WrapWithDetails(errors.ELocked, "another scaffolding run holds the lab root", err,
				map[string]string{"lock_file": locked.Path})
		}
		return res, errors.Wrap(errors.EInternal, "failed to acquire lab root lock", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			log.Warn("unlock_failed", "error", uerr)
		}
	}()

	baseTag, baseDir, err := g.checkPreconditions(tag, req.Base)
	if err != nil {
		return res, err
	}
	res.Base = baseTag
	log = log.With("base", string(baseTag))

	prod, dev, err := g.mint(ctx, tag)
	if err != nil {
		return res, err
	}
	res.ClientID = dev.ClientID
	log.Debug("credentials_minted", "client_id", dev.ClientID)

	tx := artifacts.NewTransaction(g.FS)
	for _, a := range g.sharedArtifacts(tag, prod, dev) {
		staged, err := tx.Stage(a)
		if err != nil {
			return res, err
		}
		res.Artifacts = append(res.Artifacts, ArtifactChange{
			Name:       a.Name(),
			Path:       a.Path(),
			BytesAdded: len(staged.Output) - len(staged.Original),
		})
		log.Debug("artifact_staged", "artifact", a.Name(), "path", a.Path())
	}

	if req.DryRun {
		for _, role := range core.Roles() {
			res.Configs = append(res.Configs, envconfig.Path(res.LabDir, role))
		}
		log.Info("dry_run_complete", "lab_dir", res.LabDir)
		return res, nil
	}

	if err := fs.CopyTree(g.FS, baseDir, res.LabDir); err != nil {
		return res, errors.WrapWithDetails(errors.ECloneFailed, "failed to clone base lab", err,
			map[string]string{"base": baseDir, "lab_dir": res.LabDir})
	}
	log.Info("lab_cloned", "lab_dir", res.LabDir)

	report, err := g.Rewriter.RewriteTree(res.LabDir, baseTag, tag)
	res.Rewrite = report
	if err != nil {
		return res, g.partial(log, res.LabDir, err)
	}
	log.Info("tree_rewritten", "files_rewritten", len(report.FilesRewritten), "paths_renamed", len(report.PathsRenamed))

	if err := tx.Commit(); err != nil {
		return res, g.partial(log, res.LabDir, err)
	}
	log.Info("artifacts_committed", "count", len(res.Artifacts))

	configs, err := g.Emitter.Write(res.LabDir, dev, g.devOptions())
	res.Configs = configs
	if err != nil {
		return res, g.partial(log, res.LabDir, err)
	}
	log.Info("configs_written", "count", len(configs))

	return res, nil
}

// checkPreconditions validates target and base and returns the base tag and
// directory. The target is checked first, so a base equal to the target
// reports E_LAB_EXISTS.
func (g *Generator) checkPreconditions(tag core.Tag, base string) (core.Tag, string, error) {
	labDir := filepath.Join(g.Config.Root, core.LabDirName(tag))
	exists, err := fs.Exists(g.FS, labDir)
	if err != nil {
		return "", "", errors.Wrap(errors.EInternal, "failed to check lab directory", err)
	}
	if exists {
		return "", "", errors.NewWithDetails(errors.ELabExists,
			fmt.Sprintf("lab %s already exists", tag), map[string]string{"lab_dir": labDir})
	}

	if base == "" {
		base = g.Config.Base
	}
	name := strings.TrimSuffix(base, string(filepath.Separator))
	baseTag, ok := core.ParseLabDirName(name)
	if !ok {
		return "", "", errors.New(errors.EInvalidBase,
			fmt.Sprintf("invalid base lab %q: want a directory name like lab00", base))
	}
	baseDir := filepath.Join(g.Config.Root, name)
	info, err := g.FS.Stat(baseDir)
	if err != nil || !info.IsDir() {
		return "", "", errors.NewWithDetails(errors.EBaseNotFound,
			fmt.Sprintf("base lab %s not found", name), map[string]string{"base": baseDir})
	}
	return baseTag, baseDir, nil
}

// mint returns independent production and development sets sharing only ClientID.
func (g *Generator) mint(ctx context.Context, tag core.Tag) (prod, dev *credentials.Set, err error) {
	prod, err = g.Mint.NewSet(ctx, tag, credentials.EnvProduction, "")
	if err != nil {
		return nil, nil, err
	}
	dev, err = g.Mint.NewSet(ctx, tag, credentials.EnvDevelopment, prod.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if shared := dev.SharedSecrets(prod); len(shared) > 0 {
		return nil, nil, errors.NewWithDetails(errors.ERandomFailed,
			"development and production credentials share secret values",
			map[string]string{"fields": strings.Join(shared, ",")})
	}
	return prod, dev, nil
}

// sharedArtifacts returns the shared artifacts in commit order.
func (g *Generator) sharedArtifacts(tag core.Tag, prod, dev *credentials.Set) []artifacts.Artifact {
	c := g.Config
	return []artifacts.Artifact{
		artifacts.ProxyConfig{
			File:   c.Resolve(c.Artifacts.Proxy),
			Tag:    tag,
			Domain: c.Domain,
			Port:   c.ServicePort,
		},
		artifacts.ComposeManifest{
			File: c.Resolve(c.Artifacts.Compose),
			Tag:  tag,
			Options: artifacts.ComposeOptions{
				ImagePrefix: c.Compose.ImagePrefix,
				Dockerfile:  c.Compose.Dockerfile,
				Network:     c.Network,
				DependsOn:   c.Compose.DependsOn,
				ConfigDir:   c.Compose.ConfigDir,
				CPUs:        c.Compose.CPUs,
				MemLimit:    c.Compose.MemLimit,
			},
		},
		artifacts.SQLBootstrap{File: c.Resolve(c.Artifacts.SQLProd), Credentials: prod},
		artifacts.SQLBootstrap{File: c.Resolve(c.Artifacts.SQLDev), Credentials: dev},
	}
}

func (g *Generator) devOptions() envconfig.Options {
	d := g.Config.Dev
	return envconfig.Options{
		Host:         d.Host,
		ServerPort:   d.ServerPort,
		ClientPort:   d.ClientPort,
		DatabasePort: d.DatabasePort,
		RedisPort:    d.RedisPort,
	}
}

// partial tags err with the lab directory left behind for manual cleanup.
func (g *Generator) partial(log *slog.Logger, labDir string, err error) error {
	log.Error("partial_lab_left", "lab_dir", labDir, "error", err)
	le, ok := errors.AsLabError(err)
	if !ok {
		return errors.WrapWithDetails(errors.EInternal, "scaffolding failed", err,
			map[string]string{"lab_dir": labDir})
	}
	details := make(map[string]string, len(le.Details)+1)
	for k, v := range le.Details {
		details[k] = v
	}
	details["lab_dir"] = labDir
	return errors.WrapWithDetails(le.Code, le.Msg, le.Cause, details)
}

func lockCmd(req Request, tag core.Tag) string {
	cmd := "new -n " + string(tag)
	if req.Base != "" {
		cmd += " -b " + req.Base
	}
	if req.DryRun {
		cmd += " --dry-run"
	}
	return cmd
}
