package rewrite

import (
	"bytes"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
)

// DeclarationFile is the per-role file declaring the instance label constant,
// relative to the role directory.
const DeclarationFile = "internal/constants/constants.go"

// ConfigFile is the per-role runtime config, relative to the role directory.
const ConfigFile = "config.yaml"

// DefaultInclude lists the files scanned by the generic pass.
var DefaultInclude = []string{"**/*.go", "**/go.mod", "**/" + ConfigFile}

// Report summarizes a tree rewrite. Paths are relative to the tree root.
type Report struct {
	FilesScanned   int
	FilesRewritten []string
	PathsRenamed   []Rename
}

// Rename is one path moved by the rewrite.
type Rename struct {
	From string
	To   string
}

// Rewriter rewrites a cloned lab tree from one instance tag to another.
type Rewriter struct {
	FS fs.FS
	// Include holds doublestar patterns matched against slash-separated paths
	// relative to the tree root. Empty means DefaultInclude.
	Include []string
}

// RewriteTree rewrites the tree at root, which must be the clone named for target.
//
//  1. each role's declaration file gets its quoted base label replaced;
//  2. every included file has its delimited identifiers rewritten;
//  3. file and directory names holding a delimited base identifier are renamed.
//
// Any error aborts the rewrite with E_REWRITE_FAILED.
func (r *Rewriter) RewriteTree(root string, base, target core.Tag) (Report, error) {
	var report Report

	if base == target {
		return report, errors.New(errors.ESameTag, fmt.Sprintf("base and target are both lab%s", base))
	}
	if filepath.Base(root) != core.LabDirName(target) {
		return report, errors.New(errors.ERewriteFailed,
			fmt.Sprintf("rewrite root %s is not named %s", root, core.LabDirName(target)))
	}
	info, err := r.FS.Stat(root)
	if err != nil {
		return report, errors.Wrap(errors.ERewriteFailed, "rewrite root missing", err)
	}
	if !info.IsDir() {
		return report, errors.New(errors.ERewriteFailed, fmt.Sprintf("rewrite root %s is not a directory", root))
	}

	for _, role := range core.Roles() {
		if err := r.rewriteDeclaration(filepath.Join(root, string(role), filepath.FromSlash(DeclarationFile)), base, target); err != nil {
			return report, err
		}
	}

	rules := Rules(base, target)
	files, err := r.collect(root)
	if err != nil {
		return report, errors.Wrap(errors.ERewriteFailed, "failed to walk lab tree", err)
	}
	for _, rel := range files {
		report.FilesScanned++
		changed, err := r.rewriteFile(filepath.Join(root, filepath.FromSlash(rel)), rules)
		if err != nil {
			return report, errors.WrapWithDetails(errors.ERewriteFailed, "failed to rewrite file", err,
				map[string]string{"path": rel})
		}
		if changed {
			report.FilesRewritten = append(report.FilesRewritten, rel)
		}
	}

	renames, err := r.renamePaths(root, rules)
	if err != nil {
		return report, err
	}
	report.PathsRenamed = renames
	return report, nil
}

// rewriteDeclaration swaps the exact quoted label, e.g. "00" -> "07".
func (r *Rewriter) rewriteDeclaration(path string, base, target core.Tag) error {
	data, err := r.FS.ReadFile(path)
	if err != nil {
		return errors.WrapWithDetails(errors.ERewriteFailed, "failed to read declaration file", err,
			map[string]string{"path": path})
	}
	from := []byte(`"` + string(base) + `"`)
	if !bytes.Contains(data, from) {
		return errors.NewWithDetails(errors.ERewriteFailed,
			fmt.Sprintf("declaration file does not declare label %q", string(base)),
			map[string]string{"path": path})
	}
	out := bytes.ReplaceAll(data, from, []byte(`"`+string(target)+`"`))
	mode, err := fs.FileMode(r.FS, path, 0644)
	if err != nil {
		return errors.Wrap(errors.ERewriteFailed, "failed to stat declaration file", err)
	}
	if err := r.FS.WriteFile(path, out, mode); err != nil {
		return errors.WrapWithDetails(errors.ERewriteFailed, "failed to write declaration file", err,
			map[string]string{"path": path})
	}
	return nil
}

// rewriteFile rewrites one file in place; untouched files are not written.
// Files containing a NUL byte are treated as binary and skipped.
func (r *Rewriter) rewriteFile(path string, rules []Rule) (bool, error) {
	data, err := r.FS.ReadFile(path)
	if err != nil {
		return false, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return false, nil
	}
	out, n := Apply(string(data), rules)
	if n == 0 {
		return false, nil
	}
	mode, err := fs.FileMode(r.FS, path, 0644)
	if err != nil {
		return false, err
	}
	if err := r.FS.WriteFile(path, []byte(out), mode); err != nil {
		return false, err
	}
	return true, nil
}

// collect returns the slash-separated relative paths of included regular
// files under root, sorted. Symlinks are never followed.
func (r *Rewriter) collect(root string) ([]string, error) {
	include := r.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}

	var files []string
	err := walk(r.FS, root, "", func(rel string, d iofs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(include, rel) || isDeclaration(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// renamePaths renames entries whose own name holds a delimited base form.
// Deepest entries go first so parent renames never invalidate child paths.
func (r *Rewriter) renamePaths(root string, rules []Rule) ([]Rename, error) {
	var candidates []string
	err := walk(r.FS, root, "", func(rel string, _ iofs.DirEntry) error {
		if Contains(pathBase(rel), rules) {
			candidates = append(candidates, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ERewriteFailed, "failed to walk lab tree", err)
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di > dj
		}
		return candidates[i] < candidates[j]
	})

	var renames []Rename
	for _, rel := range candidates {
		newName, _ := Apply(pathBase(rel), rules)
		dir := pathDir(rel)
		newRel := newName
		if dir != "" {
			newRel = dir + "/" + newName
		}
		from := filepath.Join(root, filepath.FromSlash(rel))
		to := filepath.Join(root, filepath.FromSlash(newRel))
		exists, err := fs.Exists(r.FS, to)
		if err != nil {
			return renames, errors.Wrap(errors.ERewriteFailed, "failed to check rename target", err)
		}
		if exists {
			return renames, errors.NewWithDetails(errors.ERewriteFailed, "rename target already exists",
				map[string]string{"from": rel, "to": newRel})
		}
		if err := r.FS.Rename(from, to); err != nil {
			return renames, errors.WrapWithDetails(errors.ERewriteFailed, "failed to rename path", err,
				map[string]string{"from": rel, "to": newRel})
		}
		renames = append(renames, Rename{From: rel, To: newRel})
	}
	return renames, nil
}

// walk visits every entry below dir (not dir itself) in lexical order,
// passing slash-separated paths relative to the walk root.
func walk(fsys fs.FS, root, rel string, fn func(rel string, d iofs.DirEntry) error) error {
	entries, err := fsys.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := e.Name()
		if rel != "" {
			child = rel + "/" + e.Name()
		}
		if err := fn(child, e); err != nil {
			return err
		}
		if e.IsDir() {
			if err := walk(fsys, root, child, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func isDeclaration(rel string) bool {
	for _, role := range core.Roles() {
		if rel == string(role)+"/"+DeclarationFile {
			return true
		}
	}
	return false
}

func pathBase(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

func pathDir(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[:i]
	}
	return ""
}
