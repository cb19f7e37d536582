package artifacts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// SQLBootstrap appends the database users and schemas for one instance to a
// database init script. Production and development scripts each get their
// own SQLBootstrap carrying that environment's credentials.
type SQLBootstrap struct {
	File        string
	Credentials *credentials.Set
}

var sqlTemplate = template.Must(template.New("sql").Funcs(template.FuncMap{
	"quote": sqlQuote,
}).Parse(`
{{ .Marker }}
{{- range .Grants }}
CREATE USER '{{ .User }}'@'%' IDENTIFIED BY {{ quote .Password }};
CREATE DATABASE {{ .User }};
GRANT ALL PRIVILEGES ON {{ .User }}.* TO '{{ .User }}'@'%';
{{- end }}
`))

type sqlGrant struct {
	User     string
	Password string
}

func (s SQLBootstrap) Name() string {
	if s.Credentials != nil && s.Credentials.Env == credentials.EnvDevelopment {
		return "sql_dev"
	}
	return "sql_prod"
}

func (s SQLBootstrap) Path() string { return s.File }

// Marker is the comment line opening this instance's block, e.g. "-- lab07".
func (s SQLBootstrap) Marker() string {
	return "-- " + core.LabDirName(s.Credentials.Tag)
}

// Render appends the block. A script that already holds the marker line is
// refused rather than given a second set of users.
func (s SQLBootstrap) Render(current []byte) ([]byte, error) {
	if s.Credentials == nil {
		return nil, errors.New(errors.EInternal, "sql bootstrap has no credentials")
	}
	marker := s.Marker()
	for _, line := range splitLines(string(current)) {
		if strings.TrimSpace(line) == marker {
			return nil, errors.NewWithDetails(errors.EArtifactConflict,
				fmt.Sprintf("sql script already has a %s block", core.LabDirName(s.Credentials.Tag)),
				map[string]string{"path": s.File})
		}
	}

	data := struct {
		Marker string
		Grants []sqlGrant
	}{Marker: marker}
	for _, role := range core.Roles() {
		data.Grants = append(data.Grants, sqlGrant{
			User:     s.Credentials.DatabaseUser(role),
			Password: s.Credentials.DatabasePassword(role),
		})
	}

	var block bytes.Buffer
	if err := sqlTemplate.Execute(&block, data); err != nil {
		return nil, errors.Wrap(errors.EInternal, "failed to render sql block", err)
	}
	return []byte(ensureTrailingNewline(string(current)) + block.String()), nil
}

// sqlQuote returns s as a single-quoted SQL string literal.
func sqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
