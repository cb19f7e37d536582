// Package configcheck cross-checks the config keys each lab component reads
// against the defaults its config package registers.
package configcheck

import (
	stderrors "errors"
	iofs "io/fs"
	"path"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// ConfigFile is the component file holding the SetDefault registrations.
const ConfigFile = "internal/config/config.go"

// ComponentPattern selects the component trees of every lab instance.
const ComponentPattern = "lab[0-9][0-9]/{server,client}"

var (
	registrationRe = regexp.MustCompile(`(?m)^\s*cfg\.SetDefault\("(.+?)",\s`)
	usageRe        = regexp.MustCompile(`cfg\.Get\w+\("(.+?)"\)`)
)

// Finding is a key read somewhere without a registered default.
type Finding struct {
	File string // slash-separated, relative to the lab root
	Key  string
}

// Report is the result of one check run.
type Report struct {
	Components []string // checked component dirs
	Skipped    []string // component dirs without a config file
	Findings   []Finding
}

// OK reports whether no finding was produced.
func (r Report) OK() bool {
	return len(r.Findings) == 0
}

// Checker walks a lab root.
type Checker struct {
	FS iofs.FS // rooted at the lab root
}

// Check scans every component under the root.
func (c Checker) Check() (Report, error) {
	var report Report

	components, err := doublestar.Glob(c.FS, ComponentPattern)
	if err != nil {
		return report, errors.Wrap(errors.EInternal, "failed to list lab components", err)
	}
	sort.Strings(components)

	for _, dir := range components {
		info, err := iofs.Stat(c.FS, dir)
		if err != nil || !info.IsDir() {
			continue
		}
		findings, ok, err := c.checkComponent(dir)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Skipped = append(report.Skipped, dir)
			continue
		}
		report.Components = append(report.Components, dir)
		report.Findings = append(report.Findings, findings...)
	}
	return report, nil
}

// checkComponent returns false when dir has no config file.
func (c Checker) checkComponent(dir string) ([]Finding, bool, error) {
	configPath := path.Join(dir, ConfigFile)
	data, err := iofs.ReadFile(c.FS, configPath)
	if err != nil {
		if stderrors.Is(err, iofs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, errors.WrapWithDetails(errors.EArtifactReadFailed, "failed to read config file", err,
			map[string]string{"path": configPath})
	}
	registered := Registrations(data)

	sub, err := iofs.Sub(c.FS, dir)
	if err != nil {
		return nil, false, errors.Wrap(errors.EInternal, "failed to open component", err)
	}
	files, err := doublestar.Glob(sub, "**/*.go")
	if err != nil {
		return nil, false, errors.Wrap(errors.EInternal, "failed to list go files", err)
	}
	sort.Strings(files)

	var findings []Finding
	for _, rel := range files {
		if rel == ConfigFile {
			continue
		}
		src, err := iofs.ReadFile(sub, rel)
		if err != nil {
			return nil, false, errors.WrapWithDetails(errors.EArtifactReadFailed, "failed to read go file", err,
				map[string]string{"path": path.Join(dir, rel)})
		}
		for _, key := range Usages(src) {
			if !registered[key] {
				findings = append(findings, Finding{File: path.Join(dir, rel), Key: key})
			}
		}
	}
	return findings, true, nil
}

// Registrations returns the keys passed to cfg.SetDefault, one call per line.
func Registrations(src []byte) map[string]bool {
	keys := make(map[string]bool)
	for _, m := range registrationRe.FindAllSubmatch(src, -1) {
		keys[string(m[1])] = true
	}
	return keys
}

// Usages returns the distinct keys passed to cfg.Get* calls, sorted.
func Usages(src []byte) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range usageRe.FindAllSubmatch(src, -1) {
		k := string(m[1])
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
