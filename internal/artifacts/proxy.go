package artifacts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// ProxyConfig appends one site block per role to a Caddyfile.
type ProxyConfig struct {
	File   string
	Tag    core.Tag
	Domain string
	Port   int
}

var proxyTemplate = template.Must(template.New("proxy").Parse(`{{ range .Sites }}
{{ .Host }} {
    import common
    header {
        server: {{ .Service }}
    }
    reverse_proxy {{ .Service }}:{{ $.Port }}
}
{{ end }}`))

type proxySite struct {
	Host    string
	Service string
}

func (p ProxyConfig) Name() string { return "proxy" }
func (p ProxyConfig) Path() string { return p.File }

// Hosts returns the site addresses this artifact adds.
func (p ProxyConfig) Hosts() []string {
	var hosts []string
	for _, role := range core.Roles() {
		hosts = append(hosts, role.Hyphenated(p.Tag)+"."+p.Domain)
	}
	return hosts
}

// Render appends the site blocks at end of file. The existing file must
// close every block it opens and must not already serve either host.
func (p ProxyConfig) Render(current []byte) ([]byte, error) {
	existing, depth := caddySiteAddresses(string(current))
	if depth != 0 {
		return nil, errors.NewWithDetails(errors.EAnchorMissing,
			"proxy config ends inside an open block; refusing to append",
			map[string]string{"path": p.File, "open_blocks": fmt.Sprint(depth)})
	}
	for _, host := range p.Hosts() {
		if existing[host] {
			return nil, errors.NewWithDetails(errors.EArtifactConflict,
				fmt.Sprintf("proxy config already serves %s", host),
				map[string]string{"path": p.File})
		}
	}

	data := struct {
		Sites []proxySite
		Port  int
	}{Port: p.Port}
	for i, host := range p.Hosts() {
		data.Sites = append(data.Sites, proxySite{Host: host, Service: core.Roles()[i].Hyphenated(p.Tag)})
	}

	var block bytes.Buffer
	if err := proxyTemplate.Execute(&block, data); err != nil {
		return nil, errors.Wrap(errors.EInternal, "failed to render proxy block", err)
	}
	return []byte(ensureTrailingNewline(string(current)) + block.String()), nil
}

// caddySiteAddresses returns every address of every top-level block and the
// brace depth left open at end of input. Comments start at a '#' that begins
// a token.
func caddySiteAddresses(content string) (map[string]bool, int) {
	addrs := make(map[string]bool)
	depth := 0
	for _, line := range splitLines(content) {
		line = stripCaddyComment(strings.TrimRight(line, "\r\n"))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if depth == 0 && strings.HasSuffix(trimmed, "{") {
			head := strings.TrimSpace(strings.TrimSuffix(trimmed, "{"))
			for _, field := range strings.FieldsFunc(head, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
				addrs[normalizeCaddyAddress(field)] = true
			}
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	return addrs, depth
}

func stripCaddyComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

// normalizeCaddyAddress drops scheme and port: "https://a.b:443" -> "a.b".
func normalizeCaddyAddress(addr string) string {
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSuffix(addr, "/")
}
