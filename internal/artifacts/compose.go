package artifacts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// AnchorKey is the top-level compose key new services are inserted before.
const AnchorKey = "secrets"

// ServicesKey is the top-level compose key holding service definitions.
const ServicesKey = "services"

// ComposeOptions are the fixed parts of every generated service.
type ComposeOptions struct {
	ImagePrefix string   // e.g. "docker.io/library/"
	Dockerfile  string   // build dockerfile relative to the compose file
	Network     string   // network every service joins
	DependsOn   []string // infrastructure services started first
	ConfigDir   string   // host dir holding lab<tag>/<role>.config.yaml
	CPUs        string
	MemLimit    string
}

// ComposeManifest inserts one service per role before the secrets: anchor.
type ComposeManifest struct {
	File    string
	Tag     core.Tag
	Options ComposeOptions
}

var composeTemplate = template.Must(template.New("compose").Parse(`{{- range .Services }}
  {{ .Name }}:
    image: {{ $.Options.ImagePrefix }}{{ .Name }}
    build:
      context: .
      dockerfile: {{ $.Options.Dockerfile }}
      args:
        - 'LAB_NUMBER={{ $.Tag }}'
        - 'COMPONENT={{ .Role }}'
    networks:
      - {{ $.Options.Network }}
    depends_on:
{{- range .DependsOn }}
      - {{ . }}
{{- end }}
    volumes:
      - {{ $.Options.ConfigDir }}/lab{{ $.Tag }}/{{ .Role }}.config.yaml:/app/config.yaml
    cpus: {{ $.Options.CPUs }}
    mem_limit: {{ $.Options.MemLimit }}
{{ end }}
`))

type composeService struct {
	Name      string
	Role      core.Role
	DependsOn []string
}

func (c ComposeManifest) Name() string { return "compose" }
func (c ComposeManifest) Path() string { return c.File }

// ServiceNames returns the service keys this artifact adds.
func (c ComposeManifest) ServiceNames() []string {
	var names []string
	for _, role := range core.Roles() {
		names = append(names, role.Hyphenated(c.Tag))
	}
	return names
}

// Render splits the manifest at the secrets: anchor and inserts the new
// services between the services section and the anchor.
func (c ComposeManifest) Render(current []byte) ([]byte, error) {
	doc, err := parseManifest(current)
	if err != nil {
		return nil, errors.WrapWithDetails(errors.EArtifactReadFailed, "compose manifest is not valid yaml", err,
			map[string]string{"path": c.File})
	}
	anchorLine, err := c.locateAnchor(doc, string(current))
	if err != nil {
		return nil, err
	}
	for _, name := range c.ServiceNames() {
		if doc.services[name] {
			return nil, errors.NewWithDetails(errors.EArtifactConflict,
				fmt.Sprintf("compose manifest already defines service %s", name),
				map[string]string{"path": c.File})
		}
	}

	block, err := c.renderBlock()
	if err != nil {
		return nil, err
	}

	lines := splitLines(string(current))
	head := strings.Join(lines[:anchorLine-1], "")
	tail := strings.Join(lines[anchorLine-1:], "")
	out := ensureTrailingNewline(head) + block + tail

	if err := c.verify([]byte(out)); err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (c ComposeManifest) renderBlock() (string, error) {
	var services []composeService
	var previous []string
	for _, role := range core.Roles() {
		deps := append(append([]string(nil), c.Options.DependsOn...), previous...)
		services = append(services, composeService{Name: role.Hyphenated(c.Tag), Role: role, DependsOn: deps})
		previous = append(previous, role.Hyphenated(c.Tag))
	}

	var buf bytes.Buffer
	err := composeTemplate.Execute(&buf, struct {
		Tag      core.Tag
		Options  ComposeOptions
		Services []composeService
	}{Tag: c.Tag, Options: c.Options, Services: services})
	if err != nil {
		return "", errors.Wrap(errors.EInternal, "failed to render compose block", err)
	}
	return strings.TrimPrefix(buf.String(), "\n"), nil
}

// locateAnchor returns the 1-based line of the single top-level secrets key.
// The key must exist exactly once, appear exactly once as a column-0
// "secrets:" line, and directly follow the services section.
func (c ComposeManifest) locateAnchor(doc *manifest, raw string) (int, error) {
	details := map[string]string{"path": c.File}

	keyLines := doc.keyLines(AnchorKey)
	rawLines := anchorTextLines(raw)
	switch {
	case len(keyLines) == 0 || len(rawLines) == 0:
		return 0, errors.NewWithDetails(errors.EAnchorMissing,
			"compose manifest has no top-level secrets: section", details)
	case len(keyLines) > 1 || len(rawLines) > 1:
		details["lines"] = joinInts(append(keyLines, rawLines...))
		return 0, errors.NewWithDetails(errors.EAnchorAmbiguous,
			"compose manifest has more than one secrets: anchor", details)
	case keyLines[0] != rawLines[0]:
		details["lines"] = joinInts([]int{keyLines[0], rawLines[0]})
		return 0, errors.NewWithDetails(errors.EAnchorAmbiguous,
			"secrets: anchor line does not match the parsed secrets key", details)
	}

	if prev := doc.keyBefore(AnchorKey); prev != ServicesKey {
		details["preceding_key"] = prev
		return 0, errors.NewWithDetails(errors.EAnchorMissing,
			"secrets: must directly follow the services: section", details)
	}
	return keyLines[0], nil
}

// verify re-parses the rendered manifest: the anchor is still unique and
// both new services landed under services.
func (c ComposeManifest) verify(out []byte) error {
	doc, err := parseManifest(out)
	if err != nil {
		return errors.WrapWithDetails(errors.EInternal, "rendered compose manifest is not valid yaml", err,
			map[string]string{"path": c.File})
	}
	if n := len(doc.keyLines(AnchorKey)); n != 1 {
		return errors.NewWithDetails(errors.EInternal,
			fmt.Sprintf("rendered compose manifest has %d secrets: anchors", n),
			map[string]string{"path": c.File})
	}
	for _, name := range c.ServiceNames() {
		if !doc.services[name] {
			return errors.NewWithDetails(errors.EInternal,
				fmt.Sprintf("rendered compose manifest is missing service %s", name),
				map[string]string{"path": c.File})
		}
	}
	return nil
}

// manifest is the top-level shape of a compose file.
type manifest struct {
	keys     []*yaml.Node // top-level keys in document order
	services map[string]bool
}

func parseManifest(data []byte) (*manifest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level is not a mapping")
	}

	m := &manifest{services: make(map[string]bool)}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i], top.Content[i+1]
		m.keys = append(m.keys, key)
		if key.Value == ServicesKey && val.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(val.Content); j += 2 {
				m.services[val.Content[j].Value] = true
			}
		}
	}
	return m, nil
}

func (m *manifest) keyLines(name string) []int {
	var lines []int
	for _, k := range m.keys {
		if k.Value == name {
			lines = append(lines, k.Line)
		}
	}
	return lines
}

// keyBefore returns the top-level key preceding name, or "" if name is first or absent.
func (m *manifest) keyBefore(name string) string {
	for i, k := range m.keys {
		if k.Value == name {
			if i == 0 {
				return ""
			}
			return m.keys[i-1].Value
		}
	}
	return ""
}

// anchorTextLines returns the 1-based numbers of lines starting with "secrets:".
func anchorTextLines(raw string) []int {
	var lines []int
	for i, line := range splitLines(raw) {
		if strings.HasPrefix(line, AnchorKey+":") {
			lines = append(lines, i+1)
		}
	}
	return lines
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
